package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/model"
	"github.com/t77yq/wecom-scheduler/internal/schedule"
	"github.com/t77yq/wecom-scheduler/internal/scheduler"
	"github.com/t77yq/wecom-scheduler/internal/storage"
	"github.com/t77yq/wecom-scheduler/internal/webhook"
)

// ValidationError describes a rejected create or update input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreateTaskInput carries the raw inputs for a new task. ScheduleTime is the
// user's schedule descriptor, cron or natural language; the stored task keeps
// only the translated canonical expression.
type CreateTaskInput struct {
	Name           string            `json:"name"`
	WebhookURL     string            `json:"webhook_url"`
	MessageType    model.MessageType `json:"message_type"`
	MessageContent string            `json:"message_content,omitempty"`
	FilePath       string            `json:"file_path,omitempty"`
	ScheduleTime   string            `json:"schedule_time"`
}

// UpdateTaskInput carries a partial task update. Nil fields stay unchanged.
type UpdateTaskInput struct {
	Name           *string            `json:"name,omitempty"`
	WebhookURL     *string            `json:"webhook_url,omitempty"`
	MessageType    *model.MessageType `json:"message_type,omitempty"`
	MessageContent *string            `json:"message_content,omitempty"`
	FilePath       *string            `json:"file_path,omitempty"`
	ScheduleTime   *string            `json:"schedule_time,omitempty"`
	Active         *bool              `json:"active,omitempty"`
}

// TaskService orchestrates the task lifecycle: validation, schedule
// translation, persistence and trigger registration.
type TaskService struct {
	logger     *zap.Logger
	store      storage.TaskStore
	translator *schedule.Translator
	registry   *scheduler.JobRegistry
	dispatcher scheduler.Dispatcher
}

// NewTaskService creates a new task service
func NewTaskService(
	store storage.TaskStore,
	translator *schedule.Translator,
	registry *scheduler.JobRegistry,
	dispatcher scheduler.Dispatcher,
	logger *zap.Logger,
) *TaskService {
	return &TaskService{
		logger:     logger.Named("task-service"),
		store:      store,
		translator: translator,
		registry:   registry,
		dispatcher: dispatcher,
	}
}

// CreateTask validates the input, derives the canonical schedule and the
// first run time, persists the task and arms its trigger.
func (s *TaskService) CreateTask(ctx context.Context, input CreateTaskInput) (*model.Task, error) {
	if err := validateInput(input.Name, input.WebhookURL, input.MessageType, input.MessageContent, input.FilePath); err != nil {
		return nil, err
	}

	expr := s.translator.Translate(input.ScheduleTime)

	task := &model.Task{
		Name:           input.Name,
		WebhookURL:     input.WebhookURL,
		MessageType:    input.MessageType,
		MessageContent: input.MessageContent,
		FilePath:       input.FilePath,
		CronExpression: expr,
		Active:         true,
	}

	if next, err := schedule.NextRun(expr, time.Now()); err != nil {
		s.logger.Warn("Failed to compute initial next run time",
			zap.String("expression", expr),
			zap.Error(err))
	} else {
		task.NextRunTime = &next
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.registry.Register(task.ID, expr)

	s.logger.Info("Created task",
		zap.Int64("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("expression", expr))
	return task, nil
}

// UpdateTask applies a partial update, re-deriving the schedule and re-arming
// the trigger when schedule-relevant fields change.
func (s *TaskService) UpdateTask(ctx context.Context, id int64, input UpdateTaskInput) (*model.Task, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := *current
	if input.Name != nil {
		merged.Name = *input.Name
	}
	if input.WebhookURL != nil {
		merged.WebhookURL = *input.WebhookURL
	}
	if input.MessageType != nil {
		merged.MessageType = *input.MessageType
	}
	if input.MessageContent != nil {
		merged.MessageContent = *input.MessageContent
	}
	if input.FilePath != nil {
		merged.FilePath = *input.FilePath
	}
	if err := validateInput(merged.Name, merged.WebhookURL, merged.MessageType, merged.MessageContent, merged.FilePath); err != nil {
		return nil, err
	}

	update := model.TaskUpdate{
		Name:           input.Name,
		WebhookURL:     input.WebhookURL,
		MessageType:    input.MessageType,
		MessageContent: input.MessageContent,
		FilePath:       input.FilePath,
		Active:         input.Active,
	}

	if input.ScheduleTime != nil {
		expr := s.translator.Translate(*input.ScheduleTime)
		update.CronExpression = &expr

		if next, err := schedule.NextRun(expr, time.Now()); err != nil {
			s.logger.Warn("Failed to compute next run time for updated schedule",
				zap.Int64("task_id", id),
				zap.String("expression", expr),
				zap.Error(err))
		} else {
			update.NextRunTime = &next
		}
	}

	updated, err := s.store.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	// Trigger registration exists iff the task is active
	if updated.Active {
		s.registry.Update(id, updated.CronExpression)
	} else {
		s.registry.Deregister(id)
	}

	s.logger.Info("Updated task",
		zap.Int64("task_id", id),
		zap.String("name", updated.Name))
	return updated, nil
}

// DeleteTask deregisters the task's trigger and removes the record
func (s *TaskService) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}

	s.registry.Deregister(id)

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Deleted task", zap.Int64("task_id", id))
	return nil
}

// GetTask retrieves a task by ID
func (s *TaskService) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	return s.store.Get(ctx, id)
}

// ListTasks retrieves tasks matching the filters
func (s *TaskService) ListTasks(ctx context.Context, filters model.TaskFilters) ([]*model.Task, error) {
	return s.store.List(ctx, filters)
}

// TestSend delivers a message immediately without persisting anything
func (s *TaskService) TestSend(ctx context.Context, webhookURL string, messageType model.MessageType, content, filePath string) (webhook.DispatchResult, error) {
	if err := validateInput("test", webhookURL, messageType, content, filePath); err != nil {
		return webhook.DispatchResult{}, err
	}

	probe := &model.Task{
		Name:           "test",
		WebhookURL:     webhookURL,
		MessageType:    messageType,
		MessageContent: content,
		FilePath:       filePath,
	}
	return s.dispatcher.Dispatch(ctx, probe), nil
}

// ExecuteTask dispatches a task immediately and advances its next run time
// regardless of the delivery outcome.
func (s *TaskService) ExecuteTask(ctx context.Context, id int64) (webhook.DispatchResult, error) {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return webhook.DispatchResult{}, err
	}

	result := s.dispatcher.Dispatch(ctx, task)

	if next, err := schedule.NextRun(task.CronExpression, time.Now()); err != nil {
		s.logger.Warn("Failed to compute next run time",
			zap.Int64("task_id", id),
			zap.String("expression", task.CronExpression),
			zap.Error(err))
	} else if _, err := s.store.UpdateNextRun(ctx, id, next); err != nil {
		s.logger.Error("Failed to persist next run time",
			zap.Int64("task_id", id),
			zap.Error(err))
	}

	return result, nil
}

// InitializeTasks re-arms triggers for every active task at startup and
// refreshes run times that went stale while the scheduler was down.
func (s *TaskService) InitializeTasks(ctx context.Context) error {
	tasks, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}

	now := time.Now()
	for _, task := range tasks {
		if task.NextRunTime == nil || task.NextRunTime.Before(now) {
			if next, err := schedule.NextRun(task.CronExpression, now); err != nil {
				s.logger.Warn("Failed to refresh next run time",
					zap.Int64("task_id", task.ID),
					zap.String("expression", task.CronExpression),
					zap.Error(err))
			} else if _, err := s.store.UpdateNextRun(ctx, task.ID, next); err != nil {
				s.logger.Error("Failed to persist refreshed next run time",
					zap.Int64("task_id", task.ID),
					zap.Error(err))
			}
		}
		s.registry.Register(task.ID, task.CronExpression)
	}

	s.logger.Info("Initialized scheduled tasks", zap.Int("count", len(tasks)))
	return nil
}

func validateInput(name, webhookURL string, messageType model.MessageType, content, filePath string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if err := validateWebhookURL(webhookURL); err != nil {
		return err
	}
	if !messageType.Valid() {
		return &ValidationError{Field: "message_type", Reason: fmt.Sprintf("unknown type %q", messageType)}
	}
	if messageType.RequiresFile() {
		if filePath == "" {
			return &ValidationError{Field: "file_path", Reason: fmt.Sprintf("required for %s messages", messageType)}
		}
		if content != "" {
			return &ValidationError{Field: "message_content", Reason: fmt.Sprintf("must be empty for %s messages", messageType)}
		}
	} else {
		if content == "" {
			return &ValidationError{Field: "message_content", Reason: fmt.Sprintf("required for %s messages", messageType)}
		}
		if filePath != "" {
			return &ValidationError{Field: "file_path", Reason: fmt.Sprintf("must be empty for %s messages", messageType)}
		}
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "webhook_url", Reason: "must be a well-formed http(s) URL"}
	}
	return nil
}

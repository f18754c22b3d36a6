package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/model"
	"github.com/t77yq/wecom-scheduler/internal/webhook"
)

const (
	taskStreamName    = "WECOM_TASKS"
	taskAddSubject    = "wecom.task.add"
	taskRemoveSubject = "wecom.task.remove"
	taskResultSubject = "wecom.task.result"

	streamMaxAge = 24 * time.Hour
)

// TaskResult is the record of one dispatch outcome published for observers
type TaskResult struct {
	TaskID    int64     `json:"task_id"`
	Name      string    `json:"name"`
	Success   bool      `json:"success"`
	ErrCode   int       `json:"errcode,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandBridge exposes task management over JetStream subjects and publishes
// dispatch outcomes for external observers.
type CommandBridge struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	service *TaskService
}

// NewCommandBridge creates a new command bridge
func NewCommandBridge(js nats.JetStreamContext, service *TaskService, logger *zap.Logger) *CommandBridge {
	return &CommandBridge{
		logger:  logger.Named("commands"),
		js:      js,
		service: service,
	}
}

// Start ensures the task stream exists and subscribes to management commands
func (b *CommandBridge) Start(ctx context.Context) error {
	_, err := b.js.StreamInfo(taskStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = b.js.AddStream(&nats.StreamConfig{
			Name:     taskStreamName,
			Subjects: []string{"wecom.task.*"},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
			MaxMsgs:  -1,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		b.logger.Info("Created task stream", zap.String("name", taskStreamName))
	} else {
		b.logger.Info("Using existing task stream", zap.String("name", taskStreamName))
	}

	return b.subscribeToCommands(ctx)
}

// subscribeToCommands subscribes to task management commands
func (b *CommandBridge) subscribeToCommands(ctx context.Context) error {
	if _, err := b.js.Subscribe(taskAddSubject, func(msg *nats.Msg) {
		var input CreateTaskInput
		if err := json.Unmarshal(msg.Data, &input); err != nil {
			b.logger.Error("Failed to unmarshal task input", zap.Error(err))
			return
		}

		if _, err := b.service.CreateTask(ctx, input); err != nil {
			b.logger.Error("Failed to create task", zap.Error(err))
			return
		}
	}, nats.Durable("wecom-task-add-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", taskAddSubject, err)
	}

	if _, err := b.js.Subscribe(taskRemoveSubject, func(msg *nats.Msg) {
		var id int64
		if err := json.Unmarshal(msg.Data, &id); err != nil {
			b.logger.Error("Failed to unmarshal task ID", zap.Error(err))
			return
		}

		if err := b.service.DeleteTask(ctx, id); err != nil {
			b.logger.Error("Failed to delete task",
				zap.Int64("task_id", id),
				zap.Error(err))
			return
		}
	}, nats.Durable("wecom-task-remove-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", taskRemoveSubject, err)
	}

	return nil
}

// PublishResult publishes a dispatch outcome to the result subject
func (b *CommandBridge) PublishResult(task *model.Task, result webhook.DispatchResult) {
	data, err := json.Marshal(TaskResult{
		TaskID:    task.ID,
		Name:      task.Name,
		Success:   result.Success,
		ErrCode:   result.ErrCode,
		Message:   result.Message,
		Timestamp: time.Now(),
	})
	if err != nil {
		b.logger.Error("Failed to marshal task result", zap.Error(err))
		return
	}

	if _, err := b.js.Publish(taskResultSubject, data); err != nil {
		b.logger.Error("Failed to publish task result",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	}
}

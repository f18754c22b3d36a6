package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/model"
	"github.com/t77yq/wecom-scheduler/internal/schedule"
	"github.com/t77yq/wecom-scheduler/internal/storage"
	"github.com/t77yq/wecom-scheduler/internal/webhook"
)

// Dispatcher delivers a task's message to its destination
type Dispatcher interface {
	Dispatch(ctx context.Context, task *model.Task) webhook.DispatchResult
}

// CycleSummary aggregates one poll cycle for observability
type CycleSummary struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Checked    int           `json:"checked"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
}

// DueTaskPoller discovers due tasks and dispatches each exactly once per
// cycle. The next run time advances on every attempt, success or reported
// failure, so a broken destination costs one attempt per scheduled occurrence
// instead of one per poll interval.
type DueTaskPoller struct {
	logger     *zap.Logger
	store      storage.TaskStore
	dispatcher Dispatcher

	// OnResult, when set, observes every dispatch outcome
	OnResult func(task *model.Task, result webhook.DispatchResult)

	mu sync.Mutex
}

// NewDueTaskPoller creates a new due-task poller
func NewDueTaskPoller(store storage.TaskStore, dispatcher Dispatcher, logger *zap.Logger) *DueTaskPoller {
	return &DueTaskPoller{
		logger:     logger.Named("poller"),
		store:      store,
		dispatcher: dispatcher,
	}
}

// RunCycle performs one due-task check. A failure in one task's dispatch or
// recompute never aborts the rest of the cycle; only a store failure does,
// and the next cycle retries independently.
func (p *DueTaskPoller) RunCycle(ctx context.Context) (CycleSummary, error) {
	// Overlapping cycles must not race on the same task's next run time
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	summary := CycleSummary{StartedAt: now}

	due, err := p.store.ListDue(ctx, now)
	if err != nil {
		return summary, fmt.Errorf("failed to list due tasks: %w", err)
	}
	summary.Checked = len(due)

	p.logger.Info("Checking due tasks",
		zap.Time("now", now),
		zap.Int("due", len(due)))

	for _, task := range due {
		p.processTask(ctx, task, now, &summary)
	}

	summary.Duration = time.Since(now)
	return summary, nil
}

func (p *DueTaskPoller) processTask(ctx context.Context, task *model.Task, now time.Time, summary *CycleSummary) {
	result := p.dispatcher.Dispatch(ctx, task)
	if result.Success {
		summary.Dispatched++
		p.logger.Info("Dispatched task",
			zap.Int64("task_id", task.ID),
			zap.String("name", task.Name))
	} else {
		summary.Failed++
		p.logger.Error("Task dispatch failed",
			zap.Int64("task_id", task.ID),
			zap.String("name", task.Name),
			zap.String("reason", result.Message))
	}

	if p.OnResult != nil {
		p.OnResult(task, result)
	}

	next, err := schedule.NextRun(task.CronExpression, now)
	if err != nil {
		p.logger.Warn("Failed to compute next run time, keeping previous",
			zap.Int64("task_id", task.ID),
			zap.String("expression", task.CronExpression),
			zap.Error(err))
		return
	}

	updated, err := p.store.UpdateNextRun(ctx, task.ID, next)
	if err != nil {
		p.logger.Error("Failed to persist next run time",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
		return
	}
	if !updated {
		// Deleted between selection and dispatch; the registry side of the
		// deletion removes its trigger, nothing left to advance.
		p.logger.Warn("Task vanished mid-cycle",
			zap.Int64("task_id", task.ID))
		return
	}

	p.logger.Info("Advanced next run time",
		zap.Int64("task_id", task.ID),
		zap.Time("next_run", next))
}

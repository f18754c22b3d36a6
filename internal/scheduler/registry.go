package scheduler

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// JobRegistry keeps the substrate's trigger set consistent with active tasks,
// plus one permanent trigger for the due-task poller. Substrate failures are
// logged and swallowed: the persisted store remains the source of truth, and
// the poller's own periodic cycle keeps due-task discovery correct even when
// a per-task trigger fails to install.
type JobRegistry struct {
	logger     *zap.Logger
	substrate  Substrate
	execute    func(id int64)
	pollerOnce sync.Once
}

// NewJobRegistry creates a registry. execute is invoked by per-task triggers
// with the task's identity.
func NewJobRegistry(substrate Substrate, execute func(id int64), logger *zap.Logger) *JobRegistry {
	return &JobRegistry{
		logger:    logger.Named("registry"),
		substrate: substrate,
		execute:   execute,
	}
}

// Register installs a trigger for the task, overwriting any existing one
func (r *JobRegistry) Register(id int64, expression string) {
	key := triggerKey(id)
	err := r.substrate.ScheduleRecurring(key, expression, func() {
		r.execute(id)
	})
	if err != nil {
		r.logger.Warn("Failed to register task trigger",
			zap.Int64("task_id", id),
			zap.String("expression", expression),
			zap.Error(err))
		return
	}

	r.logger.Info("Registered task trigger",
		zap.Int64("task_id", id),
		zap.String("expression", expression))
}

// Update replaces the task's trigger. Always deregister-then-register, never
// an in-place edit, so no stale trigger state survives a schedule change.
func (r *JobRegistry) Update(id int64, expression string) {
	r.Deregister(id)
	r.Register(id, expression)
}

// Deregister removes the task's trigger if present
func (r *JobRegistry) Deregister(id int64) {
	r.substrate.Unschedule(triggerKey(id))
	r.logger.Info("Deregistered task trigger", zap.Int64("task_id", id))
}

// EnsurePollerRegistered installs the fixed trigger that runs the due-task
// poller. Idempotent; called once at startup.
func (r *JobRegistry) EnsurePollerRegistered(expression string, poll func()) {
	r.pollerOnce.Do(func() {
		if err := r.substrate.ScheduleRecurring(pollerTriggerKey, expression, poll); err != nil {
			r.logger.Error("Failed to register poller trigger",
				zap.String("expression", expression),
				zap.Error(err))
			return
		}
		r.logger.Info("Registered poller trigger", zap.String("expression", expression))
	})
}

func triggerKey(id int64) string {
	return fmt.Sprintf("%s%d", taskTriggerPrefix, id)
}

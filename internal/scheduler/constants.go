package scheduler

const (
	taskTriggerPrefix = "wecom_task_"
	pollerTriggerKey  = "wecom_check_due_tasks"

	// DefaultPollExpression fires the due-task check once per minute
	DefaultPollExpression = "* * * * *"
)

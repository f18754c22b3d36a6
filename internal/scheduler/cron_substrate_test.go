package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestScheduleRecurringAcceptsBothFieldCounts(t *testing.T) {
	substrate := NewCronSubstrate(zaptest.NewLogger(t))

	require.NoError(t, substrate.ScheduleRecurring("five", "* * * * *", func() {}))
	require.NoError(t, substrate.ScheduleRecurring("six", "0 0 9 * * ?", func() {}))
	assert.Len(t, substrate.cron.Entries(), 2)
}

func TestScheduleRecurringRejectsInvalidExpression(t *testing.T) {
	substrate := NewCronSubstrate(zaptest.NewLogger(t))

	err := substrate.ScheduleRecurring("bad", "not a cron expression", func() {})
	assert.Error(t, err)
}

func TestScheduleRecurringReplacesSameKey(t *testing.T) {
	substrate := NewCronSubstrate(zaptest.NewLogger(t))

	require.NoError(t, substrate.ScheduleRecurring("task", "0 0 9 * * ?", func() {}))
	require.NoError(t, substrate.ScheduleRecurring("task", "0 30 8 * * ?", func() {}))

	// the previous entry for the key is removed, not left behind
	assert.Len(t, substrate.cron.Entries(), 1)
}

func TestUnscheduleRemovesEntry(t *testing.T) {
	substrate := NewCronSubstrate(zaptest.NewLogger(t))

	require.NoError(t, substrate.ScheduleRecurring("task", "0 0 9 * * ?", func() {}))
	substrate.Unschedule("task")
	assert.Empty(t, substrate.cron.Entries())

	// absent key is a no-op
	substrate.Unschedule("task")
}

package scheduler

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSubstrate records trigger operations in order
type fakeSubstrate struct {
	mu       sync.Mutex
	triggers map[string]string
	commands map[string]func()
	calls    []string
	err      error
}

func newFakeSubstrate() *fakeSubstrate {
	return &fakeSubstrate{
		triggers: make(map[string]string),
		commands: make(map[string]func()),
	}
}

func (f *fakeSubstrate) ScheduleRecurring(key, expression string, cmd func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.triggers[key] = expression
	f.commands[key] = cmd
	f.calls = append(f.calls, "schedule:"+key)
	return nil
}

func (f *fakeSubstrate) Unschedule(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.triggers, key)
	delete(f.commands, key)
	f.calls = append(f.calls, "unschedule:"+key)
}

func TestRegisterInstallsTaskTrigger(t *testing.T) {
	substrate := newFakeSubstrate()

	var executed []int64
	registry := NewJobRegistry(substrate, func(id int64) {
		executed = append(executed, id)
	}, zaptest.NewLogger(t))

	registry.Register(7, "0 30 8 * * ?")

	assert.Equal(t, "0 30 8 * * ?", substrate.triggers["wecom_task_7"])

	// the trigger command carries the task identity
	require.NotNil(t, substrate.commands["wecom_task_7"])
	substrate.commands["wecom_task_7"]()
	assert.Equal(t, []int64{7}, executed)
}

func TestRegisterOverwritesExistingTrigger(t *testing.T) {
	substrate := newFakeSubstrate()
	registry := NewJobRegistry(substrate, func(int64) {}, zaptest.NewLogger(t))

	registry.Register(7, "0 30 8 * * ?")
	registry.Register(7, "0 0 12 * * ?")

	assert.Len(t, substrate.triggers, 1)
	assert.Equal(t, "0 0 12 * * ?", substrate.triggers["wecom_task_7"])
}

func TestUpdateDeregistersBeforeRegistering(t *testing.T) {
	substrate := newFakeSubstrate()
	registry := NewJobRegistry(substrate, func(int64) {}, zaptest.NewLogger(t))

	registry.Register(7, "0 30 8 * * ?")
	registry.Update(7, "0 0 12 * * ?")

	assert.Equal(t, []string{
		"schedule:wecom_task_7",
		"unschedule:wecom_task_7",
		"schedule:wecom_task_7",
	}, substrate.calls)
	assert.Equal(t, "0 0 12 * * ?", substrate.triggers["wecom_task_7"])
}

func TestRegisterSwallowsSubstrateError(t *testing.T) {
	substrate := newFakeSubstrate()
	substrate.err = errors.New("substrate down")
	registry := NewJobRegistry(substrate, func(int64) {}, zaptest.NewLogger(t))

	// must not panic or propagate; the store stays the source of truth
	registry.Register(7, "0 30 8 * * ?")

	assert.Empty(t, substrate.triggers)
}

func TestDeregisterAbsentTrigger(t *testing.T) {
	substrate := newFakeSubstrate()
	registry := NewJobRegistry(substrate, func(int64) {}, zaptest.NewLogger(t))

	registry.Deregister(99)

	assert.Equal(t, []string{"unschedule:wecom_task_99"}, substrate.calls)
}

func TestEnsurePollerRegisteredOnce(t *testing.T) {
	substrate := newFakeSubstrate()
	registry := NewJobRegistry(substrate, func(int64) {}, zaptest.NewLogger(t))

	registry.EnsurePollerRegistered("* * * * *", func() {})
	registry.EnsurePollerRegistered("*/5 * * * *", func() {})

	assert.Equal(t, []string{"schedule:wecom_check_due_tasks"}, substrate.calls)
	assert.Equal(t, "* * * * *", substrate.triggers["wecom_check_due_tasks"])
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/wecom-scheduler/internal/model"
	"github.com/t77yq/wecom-scheduler/internal/storage"
	"github.com/t77yq/wecom-scheduler/internal/testutil"
	"github.com/t77yq/wecom-scheduler/internal/webhook"
)

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestCommandBridgeAddAndRemove(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	h, url := newServiceHarness(t, 0)
	bridge := NewCommandBridge(js, h.service, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bridge.Start(ctx))

	data, err := json.Marshal(textInput(url, "每天9点"))
	require.NoError(t, err)
	_, err = js.Publish(taskAddSubject, data)
	require.NoError(t, err)

	var created []*model.Task
	waitFor(t, 5*time.Second, func() bool {
		created, err = h.store.List(context.Background(), model.TaskFilters{})
		require.NoError(t, err)
		return len(created) == 1
	})
	assert.Equal(t, "morning-report", created[0].Name)
	assert.Equal(t, "0 0 9 * * ?", created[0].CronExpression)

	id, err := json.Marshal(created[0].ID)
	require.NoError(t, err)
	_, err = js.Publish(taskRemoveSubject, id)
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		_, err := h.store.Get(context.Background(), created[0].ID)
		return errors.Is(err, storage.ErrTaskNotFound)
	})
}

func TestCommandBridgeIgnoresMalformedCommands(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	h, url := newServiceHarness(t, 0)
	bridge := NewCommandBridge(js, h.service, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bridge.Start(ctx))

	_, err := js.Publish(taskAddSubject, []byte("{malformed"))
	require.NoError(t, err)

	// a bad payload must not wedge the consumer
	data, err := json.Marshal(textInput(url, "每天9点"))
	require.NoError(t, err)
	_, err = js.Publish(taskAddSubject, data)
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		tasks, err := h.store.List(context.Background(), model.TaskFilters{})
		require.NoError(t, err)
		return len(tasks) == 1
	})
}

func TestPublishResult(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	h, _ := newServiceHarness(t, 0)
	bridge := NewCommandBridge(js, h.service, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bridge.Start(ctx))

	task := &model.Task{ID: 42, Name: "nightly"}
	bridge.PublishResult(task, webhook.DispatchResult{Success: true, Message: "ok"})

	messages, err := testutil.ConsumeMessages(js, taskResultSubject, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var result TaskResult
	require.NoError(t, json.Unmarshal(messages[0], &result))
	assert.Equal(t, int64(42), result.TaskID)
	assert.Equal(t, "nightly", result.Name)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Message)
	assert.WithinDuration(t, time.Now(), result.Timestamp, 5*time.Second)
}

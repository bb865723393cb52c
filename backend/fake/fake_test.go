package fake

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/ensemble/types"
)

func TestDefaultScript(t *testing.T) {
	ctx := context.Background()
	b := New()

	handle, err := b.Launch(ctx, &types.TaskSubmission{TaskID: "boost"})
	require.NoError(t, err)
	assert.Equal(t, types.RunHandle("run-1"), handle)

	state, err := b.GetStatus(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleRunning, state.LifecycleState)
	assert.Empty(t, state.ResultState)

	for i := 0; i < 2; i++ {
		state, err = b.GetStatus(ctx, handle)
		require.NoError(t, err)
		assert.Equal(t, types.ResultSuccess, state.ResultState)
		taskID, _ := state.Payload.GetString("task_id")
		assert.Equal(t, "boost", taskID)
	}
	assert.Equal(t, 3, b.Polls())
	assert.Equal(t, []string{"boost"}, b.LaunchedTasks())
}

func TestScriptAndFailures(t *testing.T) {
	ctx := context.Background()
	b := New().
		FailLaunch("vote_mix", errors.New("quota exceeded")).
		Script("stack_blend", Unavailable(), Fail(types.ResultFailed, "oom"))

	_, err := b.Launch(ctx, &types.TaskSubmission{TaskID: "vote_mix"})
	assert.EqualError(t, err, "quota exceeded")

	handle, err := b.Launch(ctx, &types.TaskSubmission{TaskID: "stack_blend"})
	require.NoError(t, err)

	_, err = b.GetStatus(ctx, handle)
	assert.True(t, types.IsBackendUnavailable(err))

	state, err := b.GetStatus(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, types.ResultFailed, state.ResultState)
	assert.Equal(t, "oom", state.Message)

	_, err = b.GetStatus(ctx, "run-404")
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Len(t, b.Launches(), 2)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	b := New().Script("boost", Running())

	handle, err := b.Launch(ctx, &types.TaskSubmission{TaskID: "boost"})
	require.NoError(t, err)
	require.NoError(t, b.Cancel(ctx, handle))
	assert.Error(t, b.Cancel(ctx, "run-404"))

	state, err := b.GetStatus(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, types.ResultCanceled, state.ResultState)
	assert.Equal(t, []types.RunHandle{handle}, b.Canceled())
}

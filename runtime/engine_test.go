package runtime

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/ensemble/backend/fake"
	"github.com/warriorguo/ensemble/store/mem"
	"github.com/warriorguo/ensemble/types"
	"github.com/warriorguo/ensemble/utils"
)

func TestLinearWorkflow(t *testing.T) {
	ctx := context.Background()
	backend := immediateBackend()
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_linear", pipeline(
		task("route", types.RouteCluster),
		task("stack", types.StackTopAny, "route"),
		task("vote", types.VoteTopAlg, "stack"),
	))
	require.NoError(t, err)
	assert.Equal(t, "wf_linear", id)

	status, err := e.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowRunning, status.Status)
	assert.Equal(t, "churn", status.Name)
	assert.Equal(t, []string{"route", "stack", "vote"}, status.Order)
	for _, ts := range status.Tasks {
		assert.Equal(t, types.TaskPending, ts.Status)
	}

	require.NoError(t, e.RunOnce())
	assert.Equal(t, []string{"route"}, backend.LaunchedTasks())
	status, _ = e.GetWorkflow(ctx, id)
	assert.Equal(t, types.TaskRunning, taskStatus(t, status, "route").Status)
	assert.Equal(t, types.TaskPending, taskStatus(t, status, "stack").Status)

	status = runUntilDone(t, e, id, 10)
	assert.Equal(t, types.WorkflowCompleted, status.Status)
	assert.Equal(t, []string{"route", "stack", "vote"}, backend.LaunchedTasks())
	for _, ts := range status.Tasks {
		assert.Equal(t, types.TaskCompleted, ts.Status)
		assert.NotEmpty(t, ts.RunHandle)
		score, _ := ts.Result.GetFloat64("score")
		assert.Equal(t, 0.9, score)
		assert.False(t, ts.LaunchedAt.IsZero())
		assert.False(t, ts.FinishedAt.IsZero())
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Launches.WithLabelValues("route_cluster")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.WorkflowsFinished.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.ActiveWorkflows))
}

func TestFanOutFanIn(t *testing.T) {
	ctx := context.Background()
	backend := immediateBackend()
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "", pipeline(
		task("a", types.RouteCluster),
		task("b", types.StackTopAny, "a"),
		task("c", types.Boost, "a"),
		task("d", types.VoteTopAlg, "b", "c"),
	))
	require.NoError(t, err)

	require.NoError(t, e.RunOnce())
	require.NoError(t, e.RunOnce())
	launched := backend.LaunchedTasks()
	require.Len(t, launched, 3)
	assert.Equal(t, "a", launched[0])
	assert.ElementsMatch(t, []string{"b", "c"}, launched[1:])

	status, _ := e.GetWorkflow(ctx, id)
	assert.Equal(t, types.TaskPending, taskStatus(t, status, "d").Status)

	status = runUntilDone(t, e, id, 10)
	assert.Equal(t, types.WorkflowCompleted, status.Status)
	assert.Equal(t, "d", backend.LaunchedTasks()[3])
}

func TestRemoteFailurePoisonsDownstream(t *testing.T) {
	ctx := context.Background()
	backend := immediateBackend().Script("a", fake.Fail(types.ResultFailed, "out of memory"))
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_partial", pipeline(
		task("a", types.RouteCluster),
		task("b", types.StackTopAny, "a"),
		task("c", types.Boost),
		task("e", types.VoteTopAlg, "b"),
	))
	require.NoError(t, err)

	status := runUntilDone(t, e, id, 10)
	assert.Equal(t, types.WorkflowFailed, status.Status)
	assert.ElementsMatch(t, []string{"a", "c"}, backend.LaunchedTasks())

	a := taskStatus(t, status, "a")
	assert.Equal(t, types.TaskFailed, a.Status)
	assert.Contains(t, a.Error, "FAILED")
	assert.Contains(t, a.Error, "out of memory")

	b := taskStatus(t, status, "b")
	assert.Equal(t, types.TaskFailed, b.Status)
	assert.Equal(t, "dependency a failed", b.Error)
	assert.Empty(t, b.RunHandle)

	assert.Equal(t, "dependency b failed", taskStatus(t, status, "e").Error)
	assert.Equal(t, types.TaskCompleted, taskStatus(t, status, "c").Status)
}

func TestLaunchFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	backend := immediateBackend().FailLaunch("b", errors.New("quota exceeded"))
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_launch", pipeline(
		task("a", types.RouteCluster),
		task("b", types.StackBlend, "a"),
		task("c", types.VoteTopAlg, "b"),
	))
	require.NoError(t, err)

	status := runUntilDone(t, e, id, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.RunOnce())
	}

	assert.Equal(t, types.WorkflowFailed, status.Status)
	assert.Equal(t, []string{"a", "b"}, backend.LaunchedTasks())

	b := taskStatus(t, status, "b")
	assert.Equal(t, types.TaskFailed, b.Status)
	assert.Equal(t, "launch task b failed: quota exceeded", b.Error)
	assert.Equal(t, "dependency b failed", taskStatus(t, status, "c").Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.LaunchFailures.WithLabelValues("stack_blend")))
}

func TestTransientPollErrors(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().Script("a", fake.Unavailable(), fake.Unavailable(), fake.Succeed(types.Data{"rows": 10}))
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_transient", pipeline(task("a", types.RouteCluster)))
	require.NoError(t, err)

	require.NoError(t, e.RunOnce())
	require.NoError(t, e.RunOnce())
	require.NoError(t, e.RunOnce())
	status, _ := e.GetWorkflow(ctx, id)
	a := taskStatus(t, status, "a")
	assert.Equal(t, types.TaskRunning, a.Status)
	assert.Equal(t, 2, a.PollFailures)

	status = runUntilDone(t, e, id, 3)
	a = taskStatus(t, status, "a")
	assert.Equal(t, types.TaskCompleted, a.Status)
	assert.Equal(t, 0, a.PollFailures)
	rows, _ := a.Result.GetInt("rows")
	assert.Equal(t, 10, rows)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.PollErrors))
}

func TestPollFailureEscalation(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().Script("a", fake.Unavailable())
	e := newTestEngine(t, backend, nil, types.SetMaxPollFailures(3))

	id, err := e.Submit(ctx, "wf_escalate", pipeline(task("a", types.RouteCluster), task("b", types.Boost, "a")))
	require.NoError(t, err)

	status := runUntilDone(t, e, id, 10)
	a := taskStatus(t, status, "a")
	assert.Equal(t, types.TaskFailed, a.Status)
	assert.Contains(t, a.Error, "backend unavailable for 3 consecutive polls")
	assert.Equal(t, 3, backend.Polls())
	assert.Equal(t, "dependency a failed", taskStatus(t, status, "b").Error)
}

func TestTerminatedWithoutResultFails(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().Script("a", fake.Running(), fake.Step{State: &types.RunState{
		LifecycleState: types.LifecycleTerminated,
	}})
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_terminated", pipeline(task("a", types.RouteCluster), task("b", types.Boost, "a")))
	require.NoError(t, err)

	status := runUntilDone(t, e, id, 10)
	assert.Equal(t, types.WorkflowFailed, status.Status)
	assert.Equal(t, []string{"a"}, backend.LaunchedTasks())

	a := taskStatus(t, status, "a")
	assert.Equal(t, types.TaskFailed, a.Status)
	assert.Contains(t, a.Error, "ended with TERMINATED")
	assert.Equal(t, "dependency a failed", taskStatus(t, status, "b").Error)
}

func TestWorkflowFinishesAfterLastBranch(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().
		Script("a", fake.Fail(types.ResultFailed, "bad input")).
		Script("b", fake.Running(), fake.Running(), fake.Running(), fake.Running(), fake.Succeed(types.Data{"score": 0.7}))
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_branches", pipeline(task("a", types.RouteCluster), task("b", types.Boost)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ActiveWorkflows))

	var status *types.WorkflowStatus
	for i := 0; i < 5; i++ {
		require.NoError(t, e.RunOnce())
		status, err = e.GetWorkflow(ctx, id)
		require.NoError(t, err)
		if taskStatus(t, status, "a").Status == types.TaskFailed {
			break
		}
	}
	require.Equal(t, types.TaskFailed, taskStatus(t, status, "a").Status)
	assert.Equal(t, types.TaskRunning, taskStatus(t, status, "b").Status)
	assert.Equal(t, types.WorkflowFailed, status.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ActiveWorkflows))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.WorkflowsFinished.WithLabelValues("failed")))

	status = runUntilDone(t, e, id, 10)
	assert.Equal(t, types.WorkflowFailed, status.Status)
	assert.Equal(t, types.TaskCompleted, taskStatus(t, status, "b").Status)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.ActiveWorkflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.WorkflowsFinished.WithLabelValues("failed")))

	for i := 0; i < 3; i++ {
		require.NoError(t, e.RunOnce())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.WorkflowsFinished.WithLabelValues("failed")))
}

func TestCancelWorkflow(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().Script("a", fake.Running()).Script("c", fake.Running())
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_cancel", pipeline(
		task("a", types.RouteCluster),
		task("b", types.StackTopAny, "a"),
		task("c", types.Boost),
	))
	require.NoError(t, err)
	require.NoError(t, e.RunOnce())

	require.NoError(t, e.CancelWorkflow(ctx, id))
	status, _ := e.GetWorkflow(ctx, id)
	assert.True(t, status.Canceled)
	assert.Equal(t, "workflow canceled", taskStatus(t, status, "b").Error)
	assert.Equal(t, types.TaskRunning, taskStatus(t, status, "a").Status)
	assert.ElementsMatch(t, []types.RunHandle{
		taskStatus(t, status, "a").RunHandle,
		taskStatus(t, status, "c").RunHandle,
	}, backend.Canceled())

	status = runUntilDone(t, e, id, 3)
	assert.Equal(t, types.WorkflowFailed, status.Status)
	assert.Contains(t, taskStatus(t, status, "a").Error, "CANCELED")
	assert.Equal(t, []string{"a", "c"}, backend.LaunchedTasks())

	err = e.CancelWorkflow(ctx, id)
	assert.True(t, errors.Is(err, errors.BadRequest))
	assert.True(t, errors.Is(e.CancelWorkflow(ctx, "wf_missing"), errors.NotFound))
}

func TestSubmitErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, immediateBackend(), nil)

	_, err := e.Submit(ctx, "", []byte("context: {}\n"))
	assert.True(t, types.IsMalformedDefinition(err))

	_, err = e.Submit(ctx, "", pipeline(task("a", types.Boost, "b"), task("b", types.Boost, "a")))
	assert.True(t, types.IsCyclicDependency(err))

	_, err = e.Submit(ctx, "", pipeline(task("a", types.Boost, "missing")))
	assert.True(t, types.IsUnknownDependency(err))

	_, err = e.Submit(ctx, "", pipeline(task("a", types.Boost), task("a", types.RouteCluster)))
	assert.True(t, types.IsDuplicateTask(err))

	_, err = e.Submit(ctx, "bad id/1", pipeline(task("a", types.Boost)))
	assert.True(t, errors.Is(err, errors.NotValid))

	list, _ := e.ListWorkflows(ctx)
	assert.Empty(t, list)

	_, err = e.Submit(ctx, "wf_dup", pipeline(task("a", types.Boost)))
	require.NoError(t, err)
	_, err = e.Submit(ctx, "wf_dup", pipeline(task("a", types.Boost)))
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	_, err = e.GetWorkflow(ctx, "wf_missing")
	assert.True(t, errors.Is(err, errors.NotFound))

	require.NoError(t, e.Close(ctx))
	_, err = e.Submit(ctx, "", pipeline(task("a", types.Boost)))
	assert.True(t, errors.Is(err, errors.MethodNotAllowed))
	assert.Error(t, e.RunOnce())
	assert.NoError(t, e.Close(ctx))
}

func TestGeneratedIDAndList(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, immediateBackend(), nil)

	id, err := e.Submit(ctx, "", pipeline(task("a", types.Boost)))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^wf_\d{8}_\d{6}_[0-9a-f]{8}$`), id)

	id2, err := e.Submit(ctx, "", pipeline(task("a", types.Boost)))
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	list, err := e.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[1].CreatedAt.Before(list[0].CreatedAt))
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	journal := mem.NewMemStore()
	e := newTestEngine(t, immediateBackend(), journal)

	id, err := e.Submit(ctx, "wf_journal", pipeline(task("a", types.RouteCluster), task("b", types.Boost, "a")))
	require.NoError(t, err)

	record, err := journal.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", record.Status)

	runUntilDone(t, e, id, 10)
	record, err = journal.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", record.Status)

	snapshot := &types.WorkflowStatus{}
	require.NoError(t, utils.Unserialize(record.Snapshot, snapshot))
	assert.Equal(t, types.WorkflowCompleted, snapshot.Status)
	require.Len(t, snapshot.Tasks, 2)
	assert.Equal(t, types.TaskCompleted, snapshot.Tasks[1].Status)
}

func TestJournalFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	journal := mem.NewMemStoreWithErrHandler(func() error {
		return errors.New("disk full")
	})
	e := newTestEngine(t, immediateBackend(), journal)

	id, err := e.Submit(ctx, "wf_journal", pipeline(task("a", types.RouteCluster)))
	require.NoError(t, err)
	status := runUntilDone(t, e, id, 5)
	assert.Equal(t, types.WorkflowCompleted, status.Status)
}

func TestRenderWorkflow(t *testing.T) {
	ctx := context.Background()
	backend := immediateBackend().Script("b", fake.Fail(types.ResultTimedOut, ""))
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_render", pipeline(
		task("a", types.RouteCluster),
		task("b", types.StackTopAny, "a"),
		task("c", types.VoteTopAlg, "b"),
	))
	require.NoError(t, err)
	runUntilDone(t, e, id, 10)

	dot, err := e.RenderWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, dot, "digraph D {")
	assert.Contains(t, dot, `"a" -> "b"`)
	assert.Contains(t, dot, `"b" -> "c"`)
	assert.Contains(t, dot, `"a" [label="a\nroute_cluster" shape="record" style="filled" fillcolor="green"`)
	assert.Contains(t, dot, `"b" [label="b\nstack_top_any" shape="record" style="filled" fillcolor="red"`)
	assert.Contains(t, dot, "subgraph level_2 {")

	_, err = e.RenderWorkflow(ctx, "wf_missing")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestAutoStart(t *testing.T) {
	ctx := context.Background()
	backend := fake.New()
	e := NewEngine(backend, nil, nil, newOptions(func(o *types.Options) {
		o.AutoStart = true
		o.PollInterval = 5 * time.Millisecond
	}))
	defer e.Close(ctx)

	id, err := e.Submit(ctx, "", pipeline(
		task("a", types.RouteCluster),
		task("b", types.StackTopAny, "a"),
	))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		status, err := e.GetWorkflow(ctx, id)
		return err == nil && status.Status == types.WorkflowCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, e.Close(ctx))
}

func TestConcurrentWorkflows(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().LaunchDelay(time.Millisecond)
	e := NewEngine(backend, mem.NewMemStore(), nil, newOptions(func(o *types.Options) {
		o.AutoStart = true
		o.PollInterval = 2 * time.Millisecond
		o.MaxConcurrentCalls = 8
	}))
	defer e.Close(ctx)

	const workflows = 16
	ids := make([]string, workflows)
	var wg sync.WaitGroup
	for i := 0; i < workflows; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := e.Submit(ctx, "", pipeline(
				task("a", types.RouteCluster),
				task("b", types.StackTopAny, "a"),
				task("c", types.Boost, "a"),
				task("d", types.VoteTopAlg, "b", "c"),
			))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	// a manual driver racing the loop must not launch anything twice
	go func() {
		for i := 0; i < 20; i++ {
			e.RunOnce()
		}
	}()

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			status, err := e.GetWorkflow(ctx, id)
			if err != nil || status.Status != types.WorkflowCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	seen := map[string]int{}
	for _, s := range backend.Launches() {
		seen[s.JobName]++
	}
	assert.Len(t, seen, workflows*4)
	for name, n := range seen {
		assert.Equal(t, 1, n, name)
	}
}

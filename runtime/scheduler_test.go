package runtime

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/ensemble/backend/fake"
	"github.com/warriorguo/ensemble/types"
)

// TestRandomWorkflows checks on random graphs and random outcomes that no
// task launches before its dependencies completed, that nothing launches
// twice and that a workflow completes iff all of its tasks completed.
func TestRandomWorkflows(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	kinds := []types.TaskType{types.RouteCluster, types.StackTopAny, types.Boost, types.VoteTopAlg}

	for round := 0; round < 30; round++ {
		n := 2 + r.Intn(10)
		backend := fake.New().DefaultScript(fake.Running(), fake.Succeed(nil))

		specs := make([]taskSpec, 0, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			deps := []string{}
			for j := 0; j < i; j++ {
				if r.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("t%d", j))
				}
			}
			specs = append(specs, task(id, kinds[r.Intn(len(kinds))], deps...))

			switch r.Intn(8) {
			case 0:
				backend.Script(id, fake.Fail(types.ResultFailed, "boom"))
			case 1:
				backend.FailLaunch(id, errors.New("rejected"))
			case 2:
				backend.Script(id, fake.Unavailable(), fake.Running(), fake.Succeed(nil))
			}
		}

		e := NewEngine(backend, nil, nil, newOptions())
		id, err := e.Submit(context.Background(), "", pipeline(specs...))
		require.NoError(t, err)
		status := runUntilDone(t, e, id, 4*n+4)
		require.NoError(t, e.Close(context.Background()))

		launches := map[string]int{}
		for _, taskID := range backend.LaunchedTasks() {
			launches[taskID]++
		}

		allCompleted := true
		for _, ts := range status.Tasks {
			assert.LessOrEqual(t, launches[ts.TaskID], 1, ts.TaskID)
			if ts.Status != types.TaskCompleted {
				allCompleted = false
			}
			for _, dep := range ts.DependsOn {
				depStatus := taskStatus(t, status, dep)
				if launches[ts.TaskID] > 0 {
					assert.Equal(t, types.TaskCompleted, depStatus.Status, "%s launched before %s completed", ts.TaskID, dep)
				}
				if depStatus.Status == types.TaskFailed {
					assert.Equal(t, types.TaskFailed, ts.Status)
					assert.Zero(t, launches[ts.TaskID])
				}
			}
		}
		assert.Equal(t, allCompleted, status.Status == types.WorkflowCompleted, "round %d", round)
	}
}

func TestTickSkipsClaimedTasks(t *testing.T) {
	ctx := context.Background()
	backend := fake.New()
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_claim", pipeline(task("a", types.RouteCluster)))
	require.NoError(t, err)

	w, _ := e.ledger.get(id)
	w.mu.Lock()
	w.runs["a"].claimed = true
	w.mu.Unlock()

	require.NoError(t, e.scheduler.Tick(ctx))
	assert.Empty(t, backend.LaunchedTasks())
}

func TestCancelDuringLaunch(t *testing.T) {
	ctx := context.Background()
	backend := fake.New().Script("a", fake.Running())
	e := newTestEngine(t, backend, nil)

	id, err := e.Submit(ctx, "wf_inflight", pipeline(task("a", types.RouteCluster)))
	require.NoError(t, err)

	w, _ := e.ledger.get(id)
	w.mu.Lock()
	claims := e.scheduler.release(w)
	w.mu.Unlock()
	require.Len(t, claims, 1)

	require.NoError(t, e.CancelWorkflow(ctx, id))
	e.scheduler.launch(ctx, claims[0])

	status, _ := e.GetWorkflow(ctx, id)
	a := taskStatus(t, status, "a")
	assert.Equal(t, types.TaskRunning, a.Status)
	assert.Equal(t, []types.RunHandle{a.RunHandle}, backend.Canceled())

	status = runUntilDone(t, e, id, 2)
	assert.Equal(t, types.TaskFailed, taskStatus(t, status, "a").Status)
}

package runtime

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warriorguo/ensemble/backend/fake"
	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/store"
	"github.com/warriorguo/ensemble/types"
)

const testContext = `context:
  name: churn
  compute:
    serverless: [GPU]
  timeout: 20 minutes
  metric:
    classification: [accuracy]
  source: {catalog: main, schema: ml, table: churn, target: label}
`

type taskSpec struct {
	id   string
	typ  types.TaskType
	deps []string
}

func task(id string, typ types.TaskType, deps ...string) taskSpec {
	return taskSpec{id: id, typ: typ, deps: deps}
}

// pipeline renders a definition with tasks that need no extra configuration.
func pipeline(tasks ...taskSpec) []byte {
	sb := &strings.Builder{}
	sb.WriteString(testContext)
	sb.WriteString("job:\n")
	for _, t := range tasks {
		fmt.Fprintf(sb, "  - task: %s\n    id: %s\n", t.typ, t.id)
		if len(t.deps) > 0 {
			sb.WriteString("    depends_on:\n")
			for _, dep := range t.deps {
				fmt.Fprintf(sb, "      - task: %s\n", dep)
			}
		}
	}
	return []byte(sb.String())
}

func newOptions(opts ...types.Option) *types.Options {
	o := types.NewOptions()
	o.AutoStart = false
	o.MaxConcurrentCalls = 4
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newTestEngine(t *testing.T, backend types.JobBackend, journal store.Store, opts ...types.Option) *Engine {
	e := NewEngine(backend, journal, metrics.New(), newOptions(opts...))
	t.Cleanup(func() {
		e.Close(context.Background())
	})
	return e
}

// immediateBackend completes every run on its first poll.
func immediateBackend() *fake.Backend {
	return fake.New().DefaultScript(fake.Succeed(types.Data{"score": 0.9}))
}

// runUntilDone drives the engine until every task of the workflow is terminal.
func runUntilDone(t *testing.T, e *Engine, workflowID string, maxRounds int) *types.WorkflowStatus {
	for i := 0; i < maxRounds; i++ {
		require.NoError(t, e.RunOnce())
		status, err := e.GetWorkflow(context.Background(), workflowID)
		require.NoError(t, err)
		if allTerminal(status) {
			return status
		}
	}
	t.Fatalf("workflow %s still has work after %d rounds", workflowID, maxRounds)
	return nil
}

func allTerminal(status *types.WorkflowStatus) bool {
	for _, ts := range status.Tasks {
		if !ts.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func taskStatus(t *testing.T, status *types.WorkflowStatus, taskID string) types.TaskRunStatus {
	ts, exists := status.Task(taskID)
	require.True(t, exists, "task %s", taskID)
	return ts
}

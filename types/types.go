package types

import (
	"context"
	"time"
)

// TaskStatus is the lifecycle of one TaskRun.
// It only moves forward: pending -> running -> completed|failed,
// or pending -> failed when the task never launched.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransit reports whether a TaskRun may move from s to next.
func (s TaskStatus) CanTransit(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskRunning || next == TaskFailed
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
)

// AggregateState derives the overall workflow state from its task statuses.
func AggregateState(statuses []TaskStatus) WorkflowState {
	unfinished := false
	for _, s := range statuses {
		if s == TaskFailed {
			return WorkflowFailed
		}
		if !s.IsTerminal() {
			unfinished = true
		}
	}
	if unfinished {
		return WorkflowRunning
	}
	return WorkflowCompleted
}

// TaskRunStatus is a point-in-time copy of one TaskRun.
type TaskRunStatus struct {
	TaskID    string     `json:"task_id"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`
	RunHandle RunHandle  `json:"run_handle,omitempty"`
	DependsOn []string   `json:"depends_on"`
	Result    Data       `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`

	LaunchedAt time.Time `json:"launched_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	// consecutive BackendUnavailable polls
	PollFailures int `json:"poll_failures,omitempty"`
}

// WorkflowStatus is a point-in-time copy of one Workflow.
type WorkflowStatus struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    WorkflowState   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Canceled  bool            `json:"canceled,omitempty"`
	Context   WorkflowContext `json:"context"`
	Order     []string        `json:"order"`
	Tasks     []TaskRunStatus `json:"tasks"`
}

// Task returns the status of the task with the given id.
func (w *WorkflowStatus) Task(taskID string) (TaskRunStatus, bool) {
	for _, t := range w.Tasks {
		if t.TaskID == taskID {
			return t, true
		}
	}
	return TaskRunStatus{}, false
}

type Orchestrator interface {
	/**
	 * Submit parses and validates the definition and registers a new workflow.
	 * An empty workflowID makes the orchestrator generate one.
	 * Definition errors are returned synchronously and nothing is created.
	 */
	Submit(ctx context.Context, workflowID string, definition []byte) (string, error)

	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowStatus, error)
	ListWorkflows(ctx context.Context) ([]*WorkflowStatus, error)
	/**
	 * RenderWorkflow returns the DOT text of the workflow graph,
	 * nodes are coloured by their current status.
	 */
	RenderWorkflow(ctx context.Context, workflowID string) (string, error)

	CancelWorkflow(ctx context.Context, workflowID string) error

	/**
	 * RunOnce performs one poll pass followed by one scheduling tick.
	 * Options.AutoStart should be false when the caller drives it.
	 */
	RunOnce() error

	Close(ctx context.Context) error
}

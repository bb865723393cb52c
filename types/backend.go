package types

import (
	"context"
	"time"
)

// RunHandle identifies one launched remote run. It is opaque to the orchestrator.
type RunHandle string

// Parameter names always present in a TaskSubmission.
const (
	ParamWorkflowID = "workflow_id"
	ParamTaskID     = "task_id"
	ParamConfig     = "config"
	ParamContext    = "context"
	ParamCatalog    = "catalog"
	ParamSchema     = "schema"
	ParamTable      = "table"
	ParamTarget     = "target"
)

// TaskSubmission is everything a backend needs to start one task.
type TaskSubmission struct {
	// JobName is unique per workflow and task.
	JobName     string
	TaskID      string
	ServiceName string
	Resources   ResourceClass
	TaskTimeout time.Duration
	JobTimeout  time.Duration
	Parameters  map[string]string
}

// Lifecycle and result states reported by a backend.
const (
	LifecyclePending       = "PENDING"
	LifecycleQueued        = "QUEUED"
	LifecycleRunning       = "RUNNING"
	LifecycleTerminating   = "TERMINATING"
	LifecycleTerminated    = "TERMINATED"
	LifecycleSkipped       = "SKIPPED"
	LifecycleInternalError = "INTERNAL_ERROR"

	ResultSuccess  = "SUCCESS"
	ResultFailed   = "FAILED"
	ResultTimedOut = "TIMEDOUT"
	ResultCanceled = "CANCELED"
)

type RunState struct {
	LifecycleState string
	// ResultState is empty until the run is over.
	ResultState string
	Payload     Data
	Message     string
}

// JobBackend is the remote compute service tasks are submitted to.
// Implementations should report transport level trouble on GetStatus
// as BackendUnavailableError.
type JobBackend interface {
	Launch(ctx context.Context, submission *TaskSubmission) (RunHandle, error)
	GetStatus(ctx context.Context, handle RunHandle) (*RunState, error)
}

// Canceler is implemented by backends able to stop a run.
type Canceler interface {
	Cancel(ctx context.Context, handle RunHandle) error
}

// Package fake is a scripted in-memory job backend for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/ensemble/types"
	"github.com/warriorguo/ensemble/utils"
)

var (
	_ types.JobBackend = &Backend{}
	_ types.Canceler   = &Backend{}
)

// Step is one answer of GetStatus, the last step of a script repeats.
type Step struct {
	State *types.RunState
	Err   error
}

func Running() Step {
	return Step{State: &types.RunState{LifecycleState: types.LifecycleRunning}}
}

func Succeed(payload types.Data) Step {
	return Step{State: &types.RunState{
		LifecycleState: types.LifecycleTerminated,
		ResultState:    types.ResultSuccess,
		Payload:        payload,
	}}
}

func Fail(resultState, message string) Step {
	return Step{State: &types.RunState{
		LifecycleState: types.LifecycleTerminated,
		ResultState:    resultState,
		Message:        message,
	}}
}

func Unavailable() Step {
	return Step{Err: types.NewBackendUnavailablef("service temporarily unavailable")}
}

type run struct {
	handle     types.RunHandle
	submission *types.TaskSubmission
	pos        int
	canceled   bool
}

type Backend struct {
	mu sync.Mutex

	seq      int
	launches []*types.TaskSubmission
	runs     map[types.RunHandle]*run
	canceled []types.RunHandle
	polls    int

	launchErrs map[string]error
	scripts    map[string][]Step

	defaultScript []Step
	launchDelay   time.Duration
}

// New returns a backend where every run reports RUNNING once and then
// succeeds with a payload naming the task.
func New() *Backend {
	return &Backend{
		runs:       make(map[types.RunHandle]*run),
		launchErrs: make(map[string]error),
		scripts:    make(map[string][]Step),
	}
}

// FailLaunch makes the launch of taskID return err.
func (b *Backend) FailLaunch(taskID string, err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchErrs[taskID] = err
	return b
}

// Script sets the status sequence of taskID, runs already launched restart it.
func (b *Backend) Script(taskID string, steps ...Step) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.scripts[taskID] = steps
	for _, r := range b.runs {
		if r.submission.TaskID == taskID {
			r.pos = 0
		}
	}
	return b
}

// DefaultScript replaces the sequence used by tasks without a script.
func (b *Backend) DefaultScript(steps ...Step) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultScript = steps
	return b
}

func (b *Backend) LaunchDelay(d time.Duration) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launchDelay = d
	return b
}

func (b *Backend) Launch(ctx context.Context, submission *types.TaskSubmission) (types.RunHandle, error) {
	b.mu.Lock()
	delay := b.launchDelay
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", errors.Trace(ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	recorded := *submission
	recorded.Parameters = utils.CloneMap(submission.Parameters)
	b.launches = append(b.launches, &recorded)
	if err := b.launchErrs[submission.TaskID]; err != nil {
		return "", err
	}

	b.seq++
	handle := types.RunHandle(fmt.Sprintf("run-%d", b.seq))
	b.runs[handle] = &run{handle: handle, submission: &recorded}
	return handle, nil
}

func (b *Backend) GetStatus(ctx context.Context, handle types.RunHandle) (*types.RunState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.polls++
	r, exists := b.runs[handle]
	if !exists {
		return nil, errors.NotFoundf("run %s", handle)
	}
	if r.canceled {
		return &types.RunState{
			LifecycleState: types.LifecycleTerminated,
			ResultState:    types.ResultCanceled,
			Message:        "canceled by user",
		}, nil
	}

	steps, exists := b.scripts[r.submission.TaskID]
	if !exists {
		steps = b.defaultScript
	}
	if len(steps) == 0 {
		steps = []Step{Running(), Succeed(types.Data{"task_id": r.submission.TaskID})}
	}

	step := steps[r.pos]
	if r.pos < len(steps)-1 {
		r.pos++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	state := *step.State
	state.Payload = state.Payload.Clone()
	return &state, nil
}

func (b *Backend) Cancel(ctx context.Context, handle types.RunHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, exists := b.runs[handle]
	if !exists {
		return errors.NotFoundf("run %s", handle)
	}
	r.canceled = true
	b.canceled = append(b.canceled, handle)
	return nil
}

// Launches returns every submission received, failed ones included.
func (b *Backend) Launches() []*types.TaskSubmission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.TaskSubmission{}, b.launches...)
}

// LaunchedTasks returns the task ids of Launches in arrival order.
func (b *Backend) LaunchedTasks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.launches))
	for _, s := range b.launches {
		ids = append(ids, s.TaskID)
	}
	return ids
}

func (b *Backend) Canceled() []types.RunHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.RunHandle{}, b.canceled...)
}

func (b *Backend) Polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

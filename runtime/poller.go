package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/types"
)

type pollTarget struct {
	workflowID string
	taskID     string
	handle     types.RunHandle
}

// Poller asks the backend about every running task and records the outcome.
type Poller struct {
	ledger  *Ledger
	backend types.JobBackend
	wp      *workerpool.WorkerPool
	metrics *metrics.Metrics

	// 0 never escalates
	maxFailures int
}

func NewPoller(ledger *Ledger, backend types.JobBackend, wp *workerpool.WorkerPool, maxFailures int, m *metrics.Metrics) *Poller {
	return &Poller{
		ledger:      ledger,
		backend:     backend,
		wp:          wp,
		metrics:     m,
		maxFailures: maxFailures,
	}
}

// PollOnce performs one status request per running task.
func (p *Poller) PollOnce(ctx context.Context) error {
	targets := []pollTarget{}
	for _, w := range p.ledger.active() {
		w.mu.Lock()
		for _, id := range w.graph.Order() {
			r := w.runs[id]
			if r.status == types.TaskRunning {
				targets = append(targets, pollTarget{workflowID: w.id, taskID: id, handle: r.handle})
			}
		}
		w.mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		p.wp.Submit(func() {
			defer wg.Done()
			p.poll(ctx, target)
		})
	}
	wg.Wait()
	return nil
}

func (p *Poller) poll(ctx context.Context, target pollTarget) {
	state, err := p.backend.GetStatus(ctx, target.handle)
	if err == nil && state == nil {
		err = types.NewBackendUnavailablef("empty status of run %s", target.handle)
	}
	if err != nil && !types.IsBackendUnavailable(err) {
		err = types.NewBackendUnavailable(err)
	}
	p.metrics.ObservePoll(err)

	uerr := p.ledger.update(ctx, target.workflowID, func(w *workflow) error {
		r := w.runs[target.taskID]
		if r == nil || r.status != types.TaskRunning || r.handle != target.handle {
			return nil
		}
		if err != nil {
			p.onUnavailable(w, r, target, err)
			return nil
		}
		if r.pollFailures > 0 {
			r.pollFailures = 0
			w.dirty = true
		}
		p.apply(w, target, state)
		return nil
	})
	if uerr != nil {
		log.Errorf("record poll of %s/%s failed: %v", target.workflowID, target.taskID, uerr)
	}
}

func (p *Poller) onUnavailable(w *workflow, r *taskRun, target pollTarget, err error) {
	r.pollFailures++
	w.dirty = true
	log.Warnf("poll run %s of %s/%s failed (%d in a row): %v",
		target.handle, target.workflowID, target.taskID, r.pollFailures, err)

	if p.maxFailures > 0 && r.pollFailures >= p.maxFailures {
		w.fail(target.taskID, fmt.Sprintf("backend unavailable for %d consecutive polls: %v", r.pollFailures, err))
	}
}

func (p *Poller) apply(w *workflow, target pollTarget, state *types.RunState) {
	switch {
	case state.ResultState == types.ResultSuccess:
		w.transit(target.taskID, types.TaskCompleted, func(r *taskRun) {
			r.result = state.Payload.Clone()
		})

	case state.ResultState != "":
		w.fail(target.taskID, remoteFailure(target, state.ResultState, state.Message))

	case state.LifecycleState == types.LifecycleInternalError ||
		state.LifecycleState == types.LifecycleSkipped ||
		state.LifecycleState == types.LifecycleTerminated:
		w.fail(target.taskID, remoteFailure(target, state.LifecycleState, state.Message))
	}
}

func remoteFailure(target pollTarget, resultState, message string) string {
	err := &types.RemoteExecutionFailedError{
		TaskID:      target.taskID,
		RunHandle:   target.handle,
		ResultState: resultState,
		Message:     message,
	}
	return err.Error()
}

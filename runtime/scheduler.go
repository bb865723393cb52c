package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/ensemble/types"
)

const (
	reasonCanceled = "workflow canceled"
)

type launchClaim struct {
	workflowID string
	context    types.WorkflowContext
	task       *types.TaskDefinition
}

// Scheduler releases tasks whose dependencies completed and poisons tasks
// behind a failed dependency. A Tick never waits on remote runs.
type Scheduler struct {
	ledger   *Ledger
	launcher *Launcher
	canceler types.Canceler
	wp       *workerpool.WorkerPool
}

func NewScheduler(ledger *Ledger, launcher *Launcher, canceler types.Canceler, wp *workerpool.WorkerPool) *Scheduler {
	return &Scheduler{
		ledger:   ledger,
		launcher: launcher,
		canceler: canceler,
		wp:       wp,
	}
}

// Tick makes one scheduling pass over every unfinished workflow.
// Launches fan out on the worker pool; Tick returns once they were answered.
func (s *Scheduler) Tick(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, w := range s.ledger.active() {
		claims := []*launchClaim{}
		err := s.ledger.update(ctx, w.id, func(w *workflow) error {
			claims = s.release(w)
			return nil
		})
		if err != nil {
			return err
		}

		for _, claim := range claims {
			claim := claim
			wg.Add(1)
			s.wp.Submit(func() {
				defer wg.Done()
				s.launch(ctx, claim)
			})
		}
	}

	wg.Wait()
	return nil
}

// release walks the execution order once. Failures propagate down the whole
// order within one pass because dependencies always come first.
func (s *Scheduler) release(w *workflow) []*launchClaim {
	claims := []*launchClaim{}

	for _, id := range w.graph.Order() {
		r := w.runs[id]
		if r.status != types.TaskPending || r.claimed {
			continue
		}
		if w.canceled {
			w.fail(id, reasonCanceled)
			continue
		}

		ready := true
		failedDep := ""
		for _, dep := range r.def.DependsOn {
			switch w.runs[dep].status {
			case types.TaskCompleted:
			case types.TaskFailed:
				failedDep = dep
			default:
				ready = false
			}
			if failedDep != "" {
				break
			}
		}

		switch {
		case failedDep != "":
			w.fail(id, fmt.Sprintf("dependency %s failed", failedDep))
		case ready:
			r.claimed = true
			claims = append(claims, &launchClaim{
				workflowID: w.id,
				context:    w.context,
				task:       r.def,
			})
		}
	}
	return claims
}

func (s *Scheduler) launch(ctx context.Context, claim *launchClaim) {
	handle, launchErr := s.launcher.Launch(ctx, claim.workflowID, claim.context, claim.task)

	canceled := false
	err := s.ledger.update(ctx, claim.workflowID, func(w *workflow) error {
		if launchErr != nil {
			w.fail(claim.task.ID, launchErr.Error())
			return nil
		}
		w.transit(claim.task.ID, types.TaskRunning, func(r *taskRun) {
			r.handle = handle
			r.launchedAt = time.Now()
		})
		canceled = w.canceled
		return nil
	})
	if err != nil {
		log.Errorf("record launch of %s/%s failed: %v", claim.workflowID, claim.task.ID, err)
		return
	}

	// the workflow was canceled while the launch was in flight
	if canceled && s.canceler != nil {
		if err := s.canceler.Cancel(ctx, handle); err != nil {
			log.Warnf("cancel run %s of %s/%s failed: %v", handle, claim.workflowID, claim.task.ID, err)
		}
	}
}

package runtime

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/ensemble/definition"
	"github.com/warriorguo/ensemble/graph"
	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/store"
	"github.com/warriorguo/ensemble/types"
)

var (
	_ types.Orchestrator = &Engine{}

	workflowIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// Engine drives every submitted workflow: poll running tasks, then release
// the tasks whose dependencies completed.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	inflight sync.WaitGroup
	stopCh   chan struct{}
	exitCh   chan struct{}
	wakeCh   chan struct{}

	opts     *types.Options
	backend  types.JobBackend
	journal  store.Store
	metrics  *metrics.Metrics
	wp       *workerpool.WorkerPool
	ledger   *Ledger
	launcher *Launcher

	scheduler *Scheduler
	poller    *Poller
}

// NewEngine creates the engine, journal and m may be nil.
// The engine owns the journal and closes it on Close.
func NewEngine(backend types.JobBackend, journal store.Store, m *metrics.Metrics, opts *types.Options) *Engine {
	if opts == nil {
		opts = types.NewOptions()
	}
	if opts.Ctx == nil {
		opts.Ctx = context.Background()
	}
	concurrency := opts.MaxConcurrentCalls
	if concurrency <= 0 {
		concurrency = 1
	}

	e := &Engine{
		opts:    opts,
		backend: backend,
		journal: journal,
		metrics: m,
		running: true,
		stopCh:  make(chan struct{}),
		wakeCh:  make(chan struct{}, 1),
		wp:      workerpool.New(concurrency),
	}
	e.ctx, e.cancel = context.WithCancel(opts.Ctx)

	canceler, _ := backend.(types.Canceler)
	e.ledger = NewLedger(journal, m)
	e.launcher = NewLauncher(backend, opts.JobTimeoutBuffer, m)
	e.scheduler = NewScheduler(e.ledger, e.launcher, canceler, e.wp)
	e.poller = NewPoller(e.ledger, backend, e.wp, opts.MaxPollFailures, m)

	if opts.AutoStart {
		e.asyncRun()
	}
	return e
}

func (e *Engine) asyncRun() {
	readyCh := make(chan struct{})
	e.exitCh = make(chan struct{})

	go func() {
		close(readyCh)
		defer close(e.exitCh)

		interval := e.opts.PollInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-e.stopCh:
				return
			case <-e.ctx.Done():
				return
			case <-ticker.C:
			case <-e.wakeCh:
			}
			if err := e.runOnce(); err != nil {
				log.Errorf("engine run failed: %v", err)
			}
		}
	}()
	<-readyCh
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// wake triggers a run of the loop without waiting for the next tick.
func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func NewWorkflowID(now time.Time) string {
	return "wf_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

func (e *Engine) Submit(ctx context.Context, workflowID string, text []byte) (string, error) {
	if !e.isRunning() {
		return "", errors.MethodNotAllowedf("not running")
	}

	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		workflowID = NewWorkflowID(time.Now())
	} else if !workflowIDPattern.MatchString(workflowID) {
		return "", errors.NotValidf("workflow id %q", workflowID)
	}

	def, err := definition.Parse(text)
	if err != nil {
		return "", errors.Trace(err)
	}
	g, err := graph.Build(def.Tasks)
	if err != nil {
		return "", errors.Trace(err)
	}

	if _, err := e.ledger.Create(ctx, workflowID, def.Context, g); err != nil {
		return "", errors.Trace(err)
	}
	log.Infof("submitted workflow %s (%s) with %d tasks: %s",
		workflowID, def.Context.Name, g.Len(), strings.Join(g.Order(), " -> "))

	e.wake()
	return workflowID, nil
}

func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*types.WorkflowStatus, error) {
	status, err := e.ledger.Get(workflowID)
	return status, errors.Trace(err)
}

func (e *Engine) ListWorkflows(ctx context.Context) ([]*types.WorkflowStatus, error) {
	return e.ledger.List(), nil
}

func (e *Engine) RenderWorkflow(ctx context.Context, workflowID string) (string, error) {
	status, err := e.ledger.Get(workflowID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return RenderDOT(status), nil
}

// CancelWorkflow fails every pending task and asks the backend to stop the
// running ones. Those are failed by the poller once the backend reports it.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	handles := []types.RunHandle{}
	err := e.ledger.update(ctx, workflowID, func(w *workflow) error {
		if !w.unfinished() {
			return errors.BadRequestf("workflow %s already %s", workflowID, w.state)
		}
		if !w.canceled {
			w.canceled = true
			w.dirty = true
		}
		for _, id := range w.graph.Order() {
			r := w.runs[id]
			switch {
			case r.status == types.TaskPending && !r.claimed:
				w.fail(id, reasonCanceled)
			case r.status == types.TaskRunning:
				handles = append(handles, r.handle)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.Infof("workflow %s canceled, %d runs to stop", workflowID, len(handles))

	canceler, ok := e.backend.(types.Canceler)
	if !ok {
		return nil
	}
	for _, handle := range handles {
		if err := canceler.Cancel(ctx, handle); err != nil {
			log.Warnf("cancel run %s of workflow %s failed: %v", handle, workflowID, err)
		}
	}
	return nil
}

func (e *Engine) RunOnce() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errors.MethodNotAllowedf("not running")
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	return e.runOnce()
}

func (e *Engine) runOnce() error {
	if err := e.poller.PollOnce(e.ctx); err != nil {
		return errors.Annotatef(err, "poll")
	}
	if err := e.scheduler.Tick(e.ctx); err != nil {
		return errors.Annotatef(err, "schedule")
	}
	return nil
}

// Close stops the loop, waits for in flight backend calls and closes the journal.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	if e.exitCh != nil {
		select {
		case <-e.exitCh:
		case <-ctx.Done():
			e.cancel()
			return errors.Annotatef(ctx.Err(), "wait engine loop")
		}
	}

	e.inflight.Wait()
	e.wp.StopWait()
	e.cancel()

	if e.journal != nil {
		return errors.Trace(e.journal.Close())
	}
	return nil
}

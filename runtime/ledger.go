package runtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/ensemble/graph"
	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/store"
	"github.com/warriorguo/ensemble/types"
	"github.com/warriorguo/ensemble/utils"
)

type taskRun struct {
	def *types.TaskDefinition

	status       types.TaskStatus
	handle       types.RunHandle
	result       types.Data
	err          string
	launchedAt   time.Time
	finishedAt   time.Time
	pollFailures int

	// claimed is set once a launch was handed out, so a task launches at most once
	claimed bool
}

type workflow struct {
	mu sync.Mutex

	id        string
	context   types.WorkflowContext
	graph     *graph.Graph
	createdAt time.Time
	canceled  bool
	state     types.WorkflowState
	// dirty marks changes not journaled yet
	dirty bool
	// finished is set once every task reached a terminal status
	finished bool

	runs map[string]*taskRun

	metrics *metrics.Metrics
}

func newWorkflow(id string, wctx types.WorkflowContext, g *graph.Graph, createdAt time.Time) *workflow {
	w := &workflow{
		id:        id,
		context:   wctx.Clone(),
		graph:     g,
		createdAt: createdAt,
		state:     types.WorkflowRunning,
		runs:      make(map[string]*taskRun, g.Len()),
	}
	for _, def := range g.OrderedTasks() {
		w.runs[def.ID] = &taskRun{def: def, status: types.TaskPending}
	}
	w.state = w.aggregate()
	return w
}

// transit moves a task forward, returns false when the move is not allowed.
func (w *workflow) transit(taskID string, next types.TaskStatus, mutate func(r *taskRun)) bool {
	r, exists := w.runs[taskID]
	if !exists {
		log.Errorf("%s: transit unknown task %s", w.id, taskID)
		return false
	}
	if !r.status.CanTransit(next) {
		log.Debugf("%s: ignore transition of %s from %s to %s", w.id, taskID, r.status, next)
		return false
	}
	log.Debugf("%s: task %s %s -> %s", w.id, taskID, r.status, next)

	r.status = next
	w.dirty = true
	if mutate != nil {
		mutate(r)
	}
	if next.IsTerminal() {
		r.finishedAt = time.Now()
	}
	w.metrics.ObserveTransition(string(next))
	return true
}

func (w *workflow) fail(taskID string, reason string) bool {
	if !w.transit(taskID, types.TaskFailed, func(r *taskRun) {
		r.err = reason
	}) {
		return false
	}
	if downstream := w.graph.Downstream(taskID); len(downstream) > 0 {
		log.Infof("%s: task %s failed, %d downstream tasks will not run: %v", w.id, taskID, len(downstream), downstream)
	}
	return true
}

func (w *workflow) aggregate() types.WorkflowState {
	statuses := make([]types.TaskStatus, 0, len(w.runs))
	for _, r := range w.runs {
		statuses = append(statuses, r.status)
	}
	return types.AggregateState(statuses)
}

func (w *workflow) snapshot() *types.WorkflowStatus {
	status := &types.WorkflowStatus{
		ID:        w.id,
		Name:      w.context.Name,
		Status:    w.state,
		CreatedAt: w.createdAt,
		Canceled:  w.canceled,
		Context:   w.context.Clone(),
		Order:     w.graph.Order(),
		Tasks:     make([]types.TaskRunStatus, 0, len(w.runs)),
	}
	for _, id := range status.Order {
		r := w.runs[id]
		status.Tasks = append(status.Tasks, types.TaskRunStatus{
			TaskID:       id,
			Type:         r.def.Type,
			Status:       r.status,
			RunHandle:    r.handle,
			DependsOn:    append([]string{}, r.def.DependsOn...),
			Result:       r.result.Clone(),
			Error:        r.err,
			LaunchedAt:   r.launchedAt,
			FinishedAt:   r.finishedAt,
			PollFailures: r.pollFailures,
		})
	}
	return status
}

// Ledger holds the run state of every submitted workflow of this process.
// Each workflow is guarded by its own mutex, snapshots handed out are copies.
type Ledger struct {
	mu        sync.RWMutex
	workflows map[string]*workflow

	journal store.Store
	metrics *metrics.Metrics
}

// NewLedger creates an empty ledger, journal may be nil.
func NewLedger(journal store.Store, m *metrics.Metrics) *Ledger {
	return &Ledger{
		workflows: make(map[string]*workflow),
		journal:   journal,
		metrics:   m,
	}
}

func (l *Ledger) Create(ctx context.Context, id string, wctx types.WorkflowContext, g *graph.Graph) (*types.WorkflowStatus, error) {
	w := newWorkflow(id, wctx, g, time.Now())
	w.metrics = l.metrics

	l.mu.Lock()
	if _, exists := l.workflows[id]; exists {
		l.mu.Unlock()
		return nil, errors.AlreadyExistsf("workflow %s", id)
	}
	l.workflows[id] = w
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == types.WorkflowRunning {
		l.metrics.WorkflowStarted()
	}
	snapshot := w.snapshot()
	l.writeJournal(ctx, snapshot)
	return snapshot, nil
}

func (l *Ledger) Get(id string) (*types.WorkflowStatus, error) {
	w, exists := l.get(id)
	if !exists {
		return nil, errors.NotFoundf("workflow %s", id)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot(), nil
}

// List returns every workflow ordered by creation time.
func (l *Ledger) List() []*types.WorkflowStatus {
	all := l.all()
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].id < all[j].id
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})

	out := make([]*types.WorkflowStatus, 0, len(all))
	for _, w := range all {
		w.mu.Lock()
		out = append(out, w.snapshot())
		w.mu.Unlock()
	}
	return out
}

func (l *Ledger) get(id string) (*workflow, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, exists := l.workflows[id]
	return w, exists
}

func (l *Ledger) all() []*workflow {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ws := make([]*workflow, 0, len(l.workflows))
	for _, id := range utils.SortedKeys(l.workflows) {
		ws = append(ws, l.workflows[id])
	}
	return ws
}

// active returns the workflows which still have work to do.
func (l *Ledger) active() []*workflow {
	all := l.all()
	ws := all[:0]
	for _, w := range all {
		w.mu.Lock()
		unfinished := w.unfinished()
		w.mu.Unlock()
		if unfinished {
			ws = append(ws, w)
		}
	}
	return ws
}

// unfinished reports whether any task is not terminal yet. A failed
// workflow keeps running its unaffected branches.
func (w *workflow) unfinished() bool {
	for _, r := range w.runs {
		if !r.status.IsTerminal() {
			return true
		}
	}
	return false
}

// update runs fn inside the critical section of the workflow, then refreshes
// the aggregated state and journals the result.
func (l *Ledger) update(ctx context.Context, id string, fn func(w *workflow) error) error {
	w, exists := l.get(id)
	if !exists {
		return errors.NotFoundf("workflow %s", id)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err := fn(w)

	w.state = w.aggregate()
	if !w.finished && !w.unfinished() {
		w.finished = true
		log.Infof("workflow %s finished: %s", w.id, w.state)
		l.metrics.WorkflowFinished(string(w.state))
	}
	if w.dirty {
		w.dirty = false
		l.writeJournal(ctx, w.snapshot())
	}
	return errors.Trace(err)
}

func (l *Ledger) writeJournal(ctx context.Context, snapshot *types.WorkflowStatus) {
	if l.journal == nil {
		return
	}
	b, err := utils.Serialize(snapshot)
	if err != nil {
		log.Errorf("serialize snapshot of workflow %s failed: %v", snapshot.ID, err)
		return
	}
	record := &store.Record{
		WorkflowID: snapshot.ID,
		Status:     string(snapshot.Status),
		Snapshot:   b,
		UpdatedAt:  time.Now(),
	}
	if err := l.journal.Save(ctx, record); err != nil {
		log.Errorf("journal snapshot of workflow %s failed: %v", snapshot.ID, err)
	}
}

package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/warriorguo/ensemble/store"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return &memStore{
		records: make(map[string]store.Record),
		// setup no error as default
		mockErrHandler: defaultNoErr,
	}
}

func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	return &memStore{
		records:        make(map[string]store.Record),
		mockErrHandler: errHandler,
	}
}

func defaultNoErr() error {
	return nil
}

/**
 * memStore keeps the journal in memory, it aims to provide a method for debug & testing
 * NEVER use it in the Production!
 */
type memStore struct {
	mu sync.Mutex

	mockErrHandler func() error

	records map[string]store.Record
}

func (m *memStore) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := "\n----------\n"
	for id, record := range m.records {
		s += fmt.Sprintf("%s [%s]: %s\n", id, record.Status, string(record.Snapshot))
	}
	s += "----------\n"
	return s
}

func (m *memStore) Save(ctx context.Context, record *store.Record) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *record
	r.Snapshot = append([]byte{}, record.Snapshot...)
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	m.records[r.WorkflowID] = r
	return nil
}

func (m *memStore) Load(ctx context.Context, workflowID string) (*store.Record, error) {
	if err := m.mockErrHandler(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.records[workflowID]
	if !exists {
		return nil, errors.NotFoundf("workflow %s", workflowID)
	}
	return &r, nil
}

func (m *memStore) Remove(ctx context.Context, workflowID string) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, workflowID)
	return nil
}

func (m *memStore) List(ctx context.Context, status string, iterator func(record *store.Record) bool) error {
	if err := m.mockErrHandler(); err != nil {
		return err
	}
	m.mu.Lock()
	matched := make([]store.Record, 0, len(m.records))
	for _, r := range m.records {
		if status != "" && r.Status != status {
			continue
		}
		matched = append(matched, r)
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].WorkflowID < matched[j].WorkflowID
	})
	for i := range matched {
		if !iterator(&matched[i]) {
			break
		}
	}
	return nil
}

func (m *memStore) Close() error {
	return nil
}

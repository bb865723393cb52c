package store

import (
	"context"
	"time"
)

// Record is the journaled form of one workflow.
type Record struct {
	WorkflowID string
	Status     string
	// Snapshot is the JSON encoded workflow status.
	Snapshot  []byte
	UpdatedAt time.Time
}

// Store receives workflow snapshots so that other processes can inspect
// them. The orchestrator only writes; it never reloads from a Store.
type Store interface {
	Save(ctx context.Context, record *Record) error
	/**
	 * Load returns a NotFound error when the workflow was never saved.
	 */
	Load(ctx context.Context, workflowID string) (*Record, error)
	/**
	 * Remove an unexists workflow would NOT return error
	 */
	Remove(ctx context.Context, workflowID string) error
	/**
	 * List iterates records ordered by workflow id, an empty status lists all.
	 */
	List(ctx context.Context, status string, iterator func(record *Record) bool) error

	Close() error
}

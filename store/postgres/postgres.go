package postgres

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
	_ "github.com/lib/pq"

	"github.com/warriorguo/ensemble/store"
)

var (
	_ store.Store = &pgStore{}
)

// pgStore journals workflow snapshots into the workflow_snapshots table
type pgStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given configuration
func NewPostgresStore(config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open postgres connection")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to ping postgres")
	}

	s := &pgStore{db: db}
	if err := s.initTable(context.Background()); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to initialize table")
	}

	return s, nil
}

// NewPostgresStoreWithDB creates a new PostgreSQL store with an existing database connection
func NewPostgresStoreWithDB(db *sql.DB) (store.Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	s := &pgStore{db: db}
	if err := s.initTable(context.Background()); err != nil {
		return nil, errors.Annotatef(err, "failed to initialize table")
	}

	return s, nil
}

func (p *pgStore) initTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS workflow_snapshots (
			workflow_id VARCHAR(255) PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_workflow_snapshots_status ON workflow_snapshots(status);
	`

	_, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return errors.Annotatef(err, "failed to create table")
	}

	return nil
}

// Save upserts the snapshot of one workflow
func (p *pgStore) Save(ctx context.Context, record *store.Record) error {
	query := `
		INSERT INTO workflow_snapshots (workflow_id, status, snapshot, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (workflow_id)
		DO UPDATE SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot, updated_at = CURRENT_TIMESTAMP
	`

	_, err := p.db.ExecContext(ctx, query, record.WorkflowID, record.Status, record.Snapshot)
	if err != nil {
		return errors.Annotatef(err, "failed to save snapshot of workflow=%s", record.WorkflowID)
	}

	return nil
}

func (p *pgStore) Load(ctx context.Context, workflowID string) (*store.Record, error) {
	query := `SELECT workflow_id, status, snapshot, updated_at FROM workflow_snapshots WHERE workflow_id = $1`

	record := &store.Record{}
	err := p.db.QueryRowContext(ctx, query, workflowID).Scan(
		&record.WorkflowID, &record.Status, &record.Snapshot, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("workflow %s", workflowID)
		}
		return nil, errors.Annotatef(err, "failed to load snapshot of workflow=%s", workflowID)
	}

	return record, nil
}

func (p *pgStore) Remove(ctx context.Context, workflowID string) error {
	query := `DELETE FROM workflow_snapshots WHERE workflow_id = $1`

	_, err := p.db.ExecContext(ctx, query, workflowID)
	if err != nil {
		return errors.Annotatef(err, "failed to remove snapshot of workflow=%s", workflowID)
	}

	return nil
}

func (p *pgStore) List(ctx context.Context, status string, iterator func(record *store.Record) bool) error {
	query := `SELECT workflow_id, status, snapshot, updated_at FROM workflow_snapshots
		WHERE ($1 = '' OR status = $1) ORDER BY workflow_id`

	rows, err := p.db.QueryContext(ctx, query, status)
	if err != nil {
		return errors.Annotatef(err, "failed to list snapshots with status=%s", status)
	}
	defer rows.Close()

	for rows.Next() {
		record := &store.Record{}
		if err := rows.Scan(&record.WorkflowID, &record.Status, &record.Snapshot, &record.UpdatedAt); err != nil {
			return errors.Annotatef(err, "failed to scan snapshot")
		}

		if !iterator(record) {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return errors.Annotatef(err, "error iterating rows")
	}

	return nil
}

// Close closes the database connection
func (p *pgStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

package ensemble

import (
	"github.com/juju/errors"
	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/runtime"
	"github.com/warriorguo/ensemble/store"
	"github.com/warriorguo/ensemble/store/mem"
	"github.com/warriorguo/ensemble/store/postgres"
	"github.com/warriorguo/ensemble/types"
)

// NewOrchestrator creates an orchestrator driving backend, without metrics.
func NewOrchestrator(backend types.JobBackend, opts ...types.Option) (*runtime.Engine, error) {
	return NewOrchestratorWithMetrics(backend, nil, opts...)
}

// NewOrchestratorWithMetrics creates an orchestrator reporting into m.
// The snapshot journal is chosen from the options.
func NewOrchestratorWithMetrics(backend types.JobBackend, m *metrics.Metrics, opts ...types.Option) (*runtime.Engine, error) {
	options := types.NewOptions()
	for _, opt := range opts {
		opt(options)
	}
	return NewOrchestratorWithOptions(backend, m, options)
}

// NewOrchestratorWithOptions takes already populated options, as loaded from a config file.
func NewOrchestratorWithOptions(backend types.JobBackend, m *metrics.Metrics, options *types.Options) (*runtime.Engine, error) {
	if backend == nil {
		return nil, errors.NotValidf("nil job backend")
	}
	if options == nil {
		options = types.NewOptions()
	}

	journal, err := newJournal(options)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return runtime.NewEngine(backend, journal, m, options), nil
}

// PostgresConfig takes precedence over MemStore, neither means no journal.
func newJournal(options *types.Options) (store.Store, error) {
	if options.PostgresConfig != nil {
		pgConfig := postgres.DefaultConfig()
		if options.PostgresConfig.Host != "" {
			pgConfig.Host = options.PostgresConfig.Host
		}
		if options.PostgresConfig.Port != 0 {
			pgConfig.Port = options.PostgresConfig.Port
		}
		if options.PostgresConfig.User != "" {
			pgConfig.User = options.PostgresConfig.User
		}
		if options.PostgresConfig.Database != "" {
			pgConfig.Database = options.PostgresConfig.Database
		}
		if options.PostgresConfig.SSLMode != "" {
			pgConfig.SSLMode = options.PostgresConfig.SSLMode
		}
		pgConfig.Password = options.PostgresConfig.Password

		s, err := postgres.NewPostgresStore(pgConfig)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to create PostgreSQL journal")
		}
		return s, nil
	}
	if options.MemStore {
		return mem.NewMemStore(), nil
	}
	return nil, nil
}

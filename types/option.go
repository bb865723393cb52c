package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

func NewOptions() *Options {
	opts := &Options{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type Options struct {
	Ctx context.Context `yaml:"-"`
	/**
	 * default: 5s, the interval between two RunOnce calls of the engine loop.
	 */
	PollInterval time.Duration `yaml:"poll_interval" default:"5s"`
	/**
	 * default: 16, at most this many launch/status calls are in flight
	 * against the job backend at once.
	 */
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" default:"16"`
	/**
	 * default: 10, a running task is failed after this many consecutive
	 * polls ended with BackendUnavailable. 0 never escalates.
	 */
	MaxPollFailures int `yaml:"max_poll_failures" default:"10"`
	/**
	 * default: 5m, added to the workflow timeout budget to form the
	 * job-level timeout handed to the backend.
	 */
	JobTimeoutBuffer time.Duration `yaml:"job_timeout_buffer" default:"5m"`
	/**
	 * default: true, set it to false and *important*
	 * caller should call Orchestrator.RunOnce() looply.
	 */
	AutoStart bool `yaml:"auto_start" default:"true"`
	/**
	 * default: false, journal workflow snapshots into an in-memory store.
	 */
	MemStore bool `yaml:"mem_store" default:"false"`

	// If both MemStore and PostgresConfig are set, PostgresConfig takes precedence
	PostgresConfig *PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"` // disable, require, verify-ca, verify-full
}

type Option func(*Options)

func WithContext(ctx context.Context) Option {
	return func(opts *Options) {
		opts.Ctx = ctx
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.PollInterval = interval
	}
}

func SetMaxConcurrentCalls(n int) Option {
	return func(opts *Options) {
		opts.MaxConcurrentCalls = n
	}
}

func SetMaxPollFailures(n int) Option {
	return func(opts *Options) {
		opts.MaxPollFailures = n
	}
}

func WithJobTimeoutBuffer(buffer time.Duration) Option {
	return func(opts *Options) {
		opts.JobTimeoutBuffer = buffer
	}
}

func DisableAutoStart() Option {
	return func(opts *Options) {
		opts.AutoStart = false
	}
}

func EnableMemStore() Option {
	return func(opts *Options) {
		opts.MemStore = true
	}
}

func WithPostgresConfig(config *PostgresConfig) Option {
	return func(opts *Options) {
		opts.PostgresConfig = config
	}
}

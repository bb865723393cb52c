package main

import (
	"os"

	"github.com/juju/errors"
	defaults "github.com/mcuadros/go-defaults"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/warriorguo/ensemble/backend/jobsapi"
	"github.com/warriorguo/ensemble/store/postgres"
	"github.com/warriorguo/ensemble/types"
)

const (
	envToken              = "ENSEMBLE_JOBS_TOKEN"
	envMaxConcurrentCalls = "ENSEMBLE_MAX_CONCURRENT_CALLS"
	envPollInterval       = "ENSEMBLE_POLL_INTERVAL"
	envPostgresDSN        = "ENSEMBLE_POSTGRES_DSN"
)

// Config is the file given by -config.
type Config struct {
	Listen  string          `yaml:"listen" default:":8080"`
	Engine  *types.Options  `yaml:"engine"`
	JobsAPI *jobsapi.Config `yaml:"jobs_api"`
}

// LoadConfig reads path over the defaults, an empty path yields the defaults.
// A few engine settings and the token can be overridden by environment.
func LoadConfig(path string) (*Config, error) {
	conf := &Config{
		Engine:  types.NewOptions(),
		JobsAPI: &jobsapi.Config{},
	}
	defaults.SetDefaults(conf)

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(buf, conf); err != nil {
			return nil, errors.Annotatef(err, "parse config %s", path)
		}
	}
	if conf.Engine == nil {
		conf.Engine = types.NewOptions()
	}
	if conf.JobsAPI == nil {
		conf.JobsAPI = &jobsapi.Config{}
	}

	if err := applyEnv(conf, os.LookupEnv); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

func applyEnv(conf *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envToken); ok && conf.JobsAPI.Token == "" {
		conf.JobsAPI.Token = v
	}
	if v, ok := lookup(envMaxConcurrentCalls); ok {
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			return errors.NotValidf("%s=%q", envMaxConcurrentCalls, v)
		}
		conf.Engine.MaxConcurrentCalls = n
	}
	if v, ok := lookup(envPollInterval); ok {
		d, err := cast.ToDurationE(v)
		if err != nil || d <= 0 {
			return errors.NotValidf("%s=%q", envPollInterval, v)
		}
		conf.Engine.PollInterval = d
	}
	if v, ok := lookup(envPostgresDSN); ok && v != "" {
		pg, err := postgres.ParseDSN(v)
		if err != nil {
			return errors.Annotatef(err, "%s", envPostgresDSN)
		}
		conf.Engine.PostgresConfig = &types.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		}
	}
	return nil
}

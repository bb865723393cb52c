package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/ensemble"
	"github.com/warriorguo/ensemble/api"
	"github.com/warriorguo/ensemble/backend/fake"
	"github.com/warriorguo/ensemble/backend/jobsapi"
	"github.com/warriorguo/ensemble/definition"
	"github.com/warriorguo/ensemble/graph"
	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/types"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	listen := flag.String("listen", "", "listen address, overrides the config file")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error")
	validatePath := flag.String("validate", "", "validate a workflow definition, print its execution order and exit")
	dryRun := flag.Bool("dry-run", false, "use an in-memory backend where every task succeeds")
	flag.Parse()

	level, err := log.ParseLevel(*loglevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *loglevel, err)
	}
	log.SetLevel(level)

	if *validatePath != "" {
		if err := validate(os.Stdout, *validatePath); err != nil {
			log.Fatalf("%s is invalid: %v", *validatePath, err)
		}
		return
	}

	conf, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("can not read configuration: %v", err)
	}
	if *listen != "" {
		conf.Listen = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, conf, *dryRun); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func newBackend(conf *Config, dryRun bool) (types.JobBackend, error) {
	if dryRun {
		log.Warnf("dry run, no job is sent to a real backend")
		return fake.New(), nil
	}
	client, err := jobsapi.New(conf.JobsAPI)
	if err != nil {
		return nil, errors.Annotatef(err, "jobs api")
	}
	return client, nil
}

func serve(ctx context.Context, conf *Config, dryRun bool) error {
	backend, err := newBackend(conf, dryRun)
	if err != nil {
		return errors.Trace(err)
	}

	m := metrics.New()
	o, err := ensemble.NewOrchestratorWithOptions(backend, m, conf.Engine)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.Close(closeCtx); err != nil {
			log.Errorf("close orchestrator: %v", err)
		}
	}()

	e := api.NewServer(o, m)
	for _, r := range e.Routes() {
		log.Debugf("route %s %s", r.Method, r.Path)
	}
	return api.Serve(ctx, e, conf.Listen)
}

// validate parses and orders the definition at path without running it.
func validate(w io.Writer, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}
	def, err := definition.Parse(text)
	if err != nil {
		return errors.Trace(err)
	}
	g, err := graph.Build(def.Tasks)
	if err != nil {
		return errors.Trace(err)
	}

	fmt.Fprintf(w, "workflow %s: %d tasks, timeout %s\n", def.Context.Name, g.Len(), def.Context.TimeoutDuration())
	for i, level := range g.Levels() {
		fmt.Fprintf(w, "level %d: %s\n", i, strings.Join(level, ", "))
	}
	for _, task := range g.OrderedTasks() {
		if deps := g.Dependencies(task.ID); len(deps) > 0 {
			fmt.Fprintf(w, "  %s (%s) <- %s\n", task.ID, task.Type, strings.Join(deps, ", "))
		} else {
			fmt.Fprintf(w, "  %s (%s)\n", task.ID, task.Type)
		}
	}
	return nil
}

// Package jobsapi submits tasks to a Databricks Jobs API workspace:
// one single-task job per task, started right away with run-now.
package jobsapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/service/jobs"
	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/warriorguo/ensemble/types"
	"github.com/warriorguo/ensemble/utils"
)

var (
	_ types.JobBackend = &Client{}
	_ types.Canceler   = &Client{}
)

const paramResourceClass = "resource_class"

type Config struct {
	// Host is the workspace url, e.g. https://example.cloud.databricks.com
	Host  string `yaml:"host"`
	Token string `yaml:"token"`
	/**
	 * default: /Workspace/ml_ensemble_microservices, the folder holding
	 * one <task_type>_service notebook per task type.
	 */
	NotebookBasePath string        `yaml:"notebook_base_path" default:"/Workspace/ml_ensemble_microservices"`
	RequestTimeout   time.Duration `yaml:"request_timeout" default:"30s"`
	/**
	 * default: 1m, how long the sdk keeps retrying 429 and 503 answers
	 * before the call is reported as unavailable.
	 */
	RetryTimeout time.Duration `yaml:"retry_timeout" default:"1m"`
}

type Client struct {
	cfg  Config
	jobs jobsService
}

func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.NotValidf("nil jobs api config")
	}
	c := *cfg
	defaults.SetDefaults(&c)

	u, err := url.Parse(strings.TrimSuffix(c.Host, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NotValidf("jobs api host %q", c.Host)
	}

	w, err := databricks.NewWorkspaceClient(&databricks.Config{
		Host:                u.String(),
		Token:               c.Token,
		AuthType:            "pat",
		HTTPTimeoutSeconds:  int(c.RequestTimeout / time.Second),
		RetryTimeoutSeconds: int(c.RetryTimeout / time.Second),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "workspace client for %s", u.Host)
	}
	return newWithService(c, &workspaceJobs{w: w}), nil
}

func newWithService(cfg Config, svc jobsService) *Client {
	return &Client{cfg: cfg, jobs: svc}
}

func (c *Client) Launch(ctx context.Context, submission *types.TaskSubmission) (types.RunHandle, error) {
	params := utils.CloneMap(submission.Parameters)
	if params == nil {
		params = make(map[string]string, 1)
	}
	params[paramResourceClass] = string(submission.Resources)

	jobID, err := c.jobs.Create(ctx, jobs.CreateJob{
		Name: submission.JobName,
		Tasks: []jobs.Task{{
			TaskKey: submission.TaskID,
			NotebookTask: &jobs.NotebookTask{
				NotebookPath:   c.cfg.NotebookBasePath + "/" + submission.ServiceName,
				Source:         jobs.SourceWorkspace,
				BaseParameters: params,
			},
			TimeoutSeconds: int(submission.TaskTimeout / time.Second),
		}},
		TimeoutSeconds: int(submission.JobTimeout / time.Second),
	})
	if err != nil {
		return "", errors.Annotatef(classify(err), "create job %s", submission.JobName)
	}

	runID, err := c.jobs.RunNow(ctx, jobID)
	if err != nil {
		// a job that never ran is removed, the scheduler will not launch it again
		if derr := c.jobs.Delete(ctx, jobID); derr != nil {
			log.Warnf("delete job %d after failed run-now: %v", jobID, derr)
		}
		return "", errors.Annotatef(classify(err), "run job %d", jobID)
	}
	return types.RunHandle(cast.ToString(runID)), nil
}

func (c *Client) GetStatus(ctx context.Context, handle types.RunHandle) (*types.RunState, error) {
	runID, err := runIDOf(handle)
	if err != nil {
		return nil, errors.Trace(err)
	}

	run, err := c.jobs.GetRun(ctx, runID)
	if err != nil {
		return nil, errors.Annotatef(classify(err), "get run %d", runID)
	}

	state := &types.RunState{}
	if run.State != nil {
		state.LifecycleState = string(run.State.LifeCycleState)
		state.ResultState = string(run.State.ResultState)
		state.Message = run.State.StateMessage
	}
	if state.ResultState != types.ResultSuccess {
		return state, nil
	}

	// the notebook result lives on the task run, not on the job run
	outputRunID := runID
	if len(run.Tasks) > 0 && run.Tasks[0].RunId != 0 {
		outputRunID = run.Tasks[0].RunId
	}
	output, err := c.jobs.GetRunOutput(ctx, outputRunID)
	if err != nil {
		return nil, errors.Annotatef(classify(err), "get output of run %d", outputRunID)
	}
	if output.NotebookOutput != nil {
		state.Payload = payloadOf(output.NotebookOutput.Result)
	} else {
		state.Payload = types.Data{}
	}
	return state, nil
}

func (c *Client) Cancel(ctx context.Context, handle types.RunHandle) error {
	runID, err := runIDOf(handle)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.jobs.CancelRun(ctx, runID); err != nil {
		return errors.Annotatef(classify(err), "cancel run %d", runID)
	}
	return nil
}

func runIDOf(handle types.RunHandle) (int64, error) {
	id, err := cast.ToInt64E(string(handle))
	if err != nil || id <= 0 {
		return 0, errors.NotValidf("run handle %q", handle)
	}
	return id, nil
}

// payloadOf decodes the value passed to dbutils.notebook.exit. A result which
// is not a JSON object is kept under the "result" key.
func payloadOf(result string) types.Data {
	if result == "" {
		return types.Data{}
	}
	payload := types.Data{}
	if err := utils.Unserialize([]byte(result), &payload); err != nil || payload == nil {
		return types.Data{"result": result}
	}
	return payload
}

// classify reports answers with status 429 or 5xx and every error that is
// not an api answer (transport, timeouts) as BackendUnavailableError.
func classify(err error) error {
	var apiErr *apierr.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return types.NewBackendUnavailable(err)
		}
		return err
	}
	return types.NewBackendUnavailable(err)
}

package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/warriorguo/ensemble/metrics"
	"github.com/warriorguo/ensemble/types"
	"github.com/warriorguo/ensemble/utils"
)

// Launcher turns one task into one remote job submission.
// It never retries and is not idempotent.
type Launcher struct {
	backend types.JobBackend
	buffer  time.Duration
	metrics *metrics.Metrics
}

func NewLauncher(backend types.JobBackend, jobTimeoutBuffer time.Duration, m *metrics.Metrics) *Launcher {
	return &Launcher{
		backend: backend,
		buffer:  jobTimeoutBuffer,
		metrics: m,
	}
}

func JobName(workflowID, taskID string) string {
	return fmt.Sprintf("ensemble_%s_%s", workflowID, taskID)
}

// Submission builds the backend request for a task of the workflow.
func (l *Launcher) Submission(workflowID string, wctx types.WorkflowContext, task *types.TaskDefinition) (*types.TaskSubmission, error) {
	config, err := utils.SerializeString(rawConfig(task.Raw))
	if err != nil {
		return nil, errors.Annotatef(err, "serialize config of %s", task.ID)
	}
	contextJSON, err := utils.SerializeString(wctx)
	if err != nil {
		return nil, errors.Annotatef(err, "serialize context of %s", task.ID)
	}

	params := map[string]string{
		types.ParamWorkflowID: workflowID,
		types.ParamTaskID:     task.ID,
		types.ParamConfig:     config,
		types.ParamContext:    contextJSON,
		types.ParamCatalog:    wctx.Source.Catalog,
		types.ParamSchema:     wctx.Source.Schema,
		types.ParamTable:      wctx.Source.Table,
		types.ParamTarget:     wctx.Source.Target,
	}
	if err := variantParameters(task.Config, params); err != nil {
		return nil, errors.Annotatef(err, "task %s", task.ID)
	}

	timeout := wctx.TimeoutDuration()
	return &types.TaskSubmission{
		JobName:     JobName(workflowID, task.ID),
		TaskID:      task.ID,
		ServiceName: task.Type.ServiceName(),
		Resources:   wctx.ResourceClass(),
		TaskTimeout: timeout,
		JobTimeout:  timeout + l.buffer,
		Parameters:  params,
	}, nil
}

// Launch submits the task, every failure is reported as LaunchFailedError.
func (l *Launcher) Launch(ctx context.Context, workflowID string, wctx types.WorkflowContext, task *types.TaskDefinition) (types.RunHandle, error) {
	submission, err := l.Submission(workflowID, wctx, task)
	if err != nil {
		l.metrics.ObserveLaunch(string(task.Type), err)
		return "", types.NewLaunchFailed(task.ID, err)
	}

	handle, err := l.backend.Launch(ctx, submission)
	if err == nil && handle == "" {
		err = errors.New("backend returned an empty run handle")
	}
	l.metrics.ObserveLaunch(string(task.Type), err)
	if err != nil {
		log.Warnf("launch %s failed: %v", submission.JobName, err)
		return "", types.NewLaunchFailed(task.ID, err)
	}

	log.Infof("launched %s on %s as run %s", submission.JobName, submission.ServiceName, handle)
	return handle, nil
}

func rawConfig(raw types.Data) types.Data {
	if raw == nil {
		return types.Data{}
	}
	return raw
}

// variantParameters adds the typed options of each task type as flat job parameters.
func variantParameters(config types.TaskConfig, params map[string]string) error {
	switch c := config.(type) {
	case nil:
	case *types.RouteClusterConfig:
		params["cluster_method"] = c.Method
		params["n_clusters"] = cast.ToString(c.NClusters)
	case *types.RouteFeatureConfig:
		params["features"] = strings.Join(c.Features, ",")
	case *types.RouteExternalConfig:
		params["external_column"] = c.Column
	case *types.StackTopAnyConfig:
		params["top_n"] = cast.ToString(c.TopN)
		params["meta_learner"] = c.MetaLearner
	case *types.StackTopAlgConfig:
		params["algorithm"] = c.Algorithm
		params["top_n"] = cast.ToString(c.TopN)
	case *types.StackTopNAlgConfig:
		params["algorithms"] = strings.Join(c.Algorithms, ",")
		params["top_n"] = cast.ToString(c.TopN)
	case *types.StackBlendConfig:
		params["holdout"] = cast.ToString(c.Holdout)
		params["meta_learner"] = c.MetaLearner
	case *types.StackClasswiseConfig:
		params["top_n"] = cast.ToString(c.TopN)
	case *types.BoostConfig:
		params["rounds"] = cast.ToString(c.Rounds)
		params["learning_rate"] = cast.ToString(c.LearningRate)
	case *types.VoteTopAlgConfig:
		params["top_alg"] = cast.ToString(c.TopAlg)
		params["voting"] = c.Voting
	case *types.VoteMixConfig:
		params["algorithms"] = strings.Join(c.Algorithms, ",")
		params["voting"] = c.Voting
	case *types.VoteWeightConfig:
		weights, err := utils.SerializeString(c.Weights)
		if err != nil {
			return errors.Trace(err)
		}
		params["weights"] = weights
	default:
		return errors.NotSupportedf("task config %T", config)
	}
	return nil
}

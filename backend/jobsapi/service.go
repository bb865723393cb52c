package jobsapi

import (
	"context"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/service/jobs"
)

// jobsService is the part of the workspace Jobs API the client drives.
type jobsService interface {
	Create(ctx context.Context, job jobs.CreateJob) (int64, error)
	RunNow(ctx context.Context, jobID int64) (int64, error)
	GetRun(ctx context.Context, runID int64) (*jobs.Run, error)
	GetRunOutput(ctx context.Context, runID int64) (*jobs.RunOutput, error)
	CancelRun(ctx context.Context, runID int64) error
	Delete(ctx context.Context, jobID int64) error
}

type workspaceJobs struct {
	w *databricks.WorkspaceClient
}

func (s *workspaceJobs) Create(ctx context.Context, job jobs.CreateJob) (int64, error) {
	created, err := s.w.Jobs.Create(ctx, job)
	if err != nil {
		return 0, err
	}
	return created.JobId, nil
}

// RunNow only starts the run, the waiter it returns is not used.
func (s *workspaceJobs) RunNow(ctx context.Context, jobID int64) (int64, error) {
	wait, err := s.w.Jobs.RunNow(ctx, jobs.RunNow{JobId: jobID})
	if err != nil {
		return 0, err
	}
	return wait.RunId, nil
}

func (s *workspaceJobs) GetRun(ctx context.Context, runID int64) (*jobs.Run, error) {
	return s.w.Jobs.GetRun(ctx, jobs.GetRunRequest{RunId: runID})
}

func (s *workspaceJobs) GetRunOutput(ctx context.Context, runID int64) (*jobs.RunOutput, error) {
	return s.w.Jobs.GetRunOutput(ctx, jobs.GetRunOutputRequest{RunId: runID})
}

func (s *workspaceJobs) CancelRun(ctx context.Context, runID int64) error {
	_, err := s.w.Jobs.CancelRun(ctx, jobs.CancelRun{RunId: runID})
	return err
}

func (s *workspaceJobs) Delete(ctx context.Context, jobID int64) error {
	return s.w.Jobs.Delete(ctx, jobs.DeleteJob{JobId: jobID})
}

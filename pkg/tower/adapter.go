package tower

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// Adapter reconciles platform-managed analyses. Unlike the scheduler path the
// task set is discovered, so jobs are upserted by their native handle, and
// the workflow-level status overrides per-job derivation.
type Adapter struct {
	client Client
	store  *store.Store
}

func NewAdapter(client Client, s *store.Store) *Adapter {
	return &Adapter{client: client, store: s}
}

func (a *Adapter) workflowID(analysis *models.Analysis) (string, error) {
	if analysis.TowerWorkflowID == "" {
		return "", tberrors.NewInvalidInput("analysis %d has no workflow platform handle", analysis.ID)
	}
	return analysis.TowerWorkflowID, nil
}

// UpdateJobs mirrors the platform task list into the job table.
func (a *Adapter) UpdateJobs(ctx context.Context, analysis *models.Analysis) error {
	workflowID, err := a.workflowID(analysis)
	if err != nil {
		return err
	}
	tasks, err := a.client.GetTasks(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, wrapper := range tasks.Tasks {
		info, err := taskToJobInfo(wrapper.Task)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Uint("AnalysisID", analysis.ID).
				Str("Process", wrapper.Task.Process).
				Msg("skipping workflow task with no scheduler handle")
			continue
		}
		if err := a.store.UpsertJob(ctx, analysis.ID, info); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus returns the workflow-level status. A workflow that has not
// started any task yet still reports a meaningful state.
func (a *Adapter) GetStatus(ctx context.Context, analysis *models.Analysis) (models.Status, error) {
	workflowID, err := a.workflowID(analysis)
	if err != nil {
		return "", err
	}
	response, err := a.client.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return MapWorkflowStatus(response.Workflow.Status), nil
}

// GetProgress computes the fraction of pipeline processes that finished,
// from per-process aggregates rather than per-task counts.
func (a *Adapter) GetProgress(ctx context.Context, analysis *models.Analysis) (float64, error) {
	workflowID, err := a.workflowID(analysis)
	if err != nil {
		return 0, err
	}
	response, err := a.client.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	status := MapWorkflowStatus(response.Workflow.Status)
	switch {
	case status == models.StatusCompleted:
		return 1.0, nil
	case status == models.StatusPending:
		return 0.0, nil
	}

	total := len(response.Progress.ProcessesProgress)
	if total == 0 {
		return 0.0, nil
	}
	succeeded := 0
	for _, process := range response.Progress.ProcessesProgress {
		if process.Complete() {
			succeeded++
		}
	}
	return float64(succeeded) / float64(total), nil
}

// CancelJobs cancels the whole workflow in one call.
func (a *Adapter) CancelJobs(ctx context.Context, analysis *models.Analysis) error {
	workflowID, err := a.workflowID(analysis)
	if err != nil {
		return err
	}
	if err := a.client.CancelWorkflow(ctx, workflowID); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().
		Uint("AnalysisID", analysis.ID).
		Str("WorkflowID", workflowID).
		Msg("cancelled platform workflow")
	return nil
}

func taskToJobInfo(task Task) (models.JobInfo, error) {
	nativeID, err := strconv.Atoi(task.NativeID)
	if err != nil {
		return models.JobInfo{}, tberrors.NewBackend(err, "task %d has no numeric native id (%q)", task.ID, task.NativeID)
	}
	info := models.JobInfo{
		SlurmID:        nativeID,
		Name:           task.Process,
		Status:         MapTaskStatus(task.Status),
		ElapsedMinutes: task.Duration / 60,
	}
	if task.Start != nil && !task.Start.IsZero() {
		start := task.Start.Time
		info.StartedAt = &start
	}
	return info, nil
}

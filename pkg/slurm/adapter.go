package slurm

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// Adapter reconciles scheduler-managed analyses: it refreshes the registered
// job rows from squeue and derives the analysis status from them.
type Adapter struct {
	client Client
	store  *store.Store
}

func NewAdapter(client Client, s *store.Store) *Adapter {
	return &Adapter{client: client, store: s}
}

// UpdateJobs refreshes every analysis-type job of the analysis in place. The
// job set itself is registered by the submitter, never discovered.
func (a *Adapter) UpdateJobs(ctx context.Context, analysis *models.Analysis) error {
	jobs, err := a.store.GetJobs(ctx, analysis.ID, models.JobTypeAnalysis)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		info, err := a.client.GetJob(ctx, job.SlurmID)
		if err != nil {
			return err
		}
		if info.Name == "" {
			info.Name = job.Name
		}
		if err := a.store.UpdateJob(ctx, job.ID, info); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus derives the analysis status from the current job rows. An
// analysis without jobs cannot be judged.
func (a *Adapter) GetStatus(ctx context.Context, analysis *models.Analysis) (models.Status, error) {
	jobs, err := a.store.GetJobs(ctx, analysis.ID, models.JobTypeAnalysis)
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "", tberrors.NewBackend(nil, "analysis %d has no jobs to derive a status from", analysis.ID)
	}
	statuses := make([]models.JobStatus, len(jobs))
	for i, job := range jobs {
		statuses[i] = job.Status
	}
	return DeriveStatus(statuses), nil
}

// GetProgress returns the fraction of completed jobs, 0.0 for an analysis
// without jobs.
func (a *Adapter) GetProgress(ctx context.Context, analysis *models.Analysis) (float64, error) {
	jobs, err := a.store.GetJobs(ctx, analysis.ID, models.JobTypeAnalysis)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0.0, nil
	}
	completed := 0
	for _, job := range jobs {
		if job.Status == models.JobStatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(jobs)), nil
}

// CancelJobs asks the scheduler to cancel every job of the analysis, upload
// jobs included. Individual failures are collected; the caller treats them as
// advisory.
func (a *Adapter) CancelJobs(ctx context.Context, analysis *models.Analysis) error {
	var result *multierror.Error
	for _, jobType := range []models.JobType{models.JobTypeAnalysis, models.JobTypeUpload} {
		jobs, err := a.store.GetJobs(ctx, analysis.ID, jobType)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if !job.Status.IsOngoing() {
				continue
			}
			if err := a.client.CancelJob(ctx, job.SlurmID); err != nil {
				log.Ctx(ctx).Warn().Err(err).
					Uint("AnalysisID", analysis.ID).
					Int("SlurmID", job.SlurmID).
					Msg("failed to cancel scheduler job")
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

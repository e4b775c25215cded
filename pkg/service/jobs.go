// Package service holds the tracker's domain logic between the HTTP edge,
// the store and the two back-end adapters.
package service

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/slurm"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// WorkflowAdapter is the per-back-end reconciliation contract. The scheduler
// and workflow platform adapters both implement it.
type WorkflowAdapter interface {
	UpdateJobs(ctx context.Context, analysis *models.Analysis) error
	GetStatus(ctx context.Context, analysis *models.Analysis) (models.Status, error)
	GetProgress(ctx context.Context, analysis *models.Analysis) (float64, error)
	CancelJobs(ctx context.Context, analysis *models.Analysis) error
}

// JobService owns the job set of an analysis: refreshing it from the owning
// back-end, folding it into status and progress, and routing cancellation.
type JobService struct {
	store       *store.Store
	slurmClient slurm.Client
	adapters    map[models.WorkflowManager]WorkflowAdapter
}

type JobServiceParams struct {
	Store        *store.Store
	SlurmClient  slurm.Client
	SlurmAdapter WorkflowAdapter
	TowerAdapter WorkflowAdapter
}

func NewJobService(params JobServiceParams) *JobService {
	return &JobService{
		store:       params.Store,
		slurmClient: params.SlurmClient,
		adapters: map[models.WorkflowManager]WorkflowAdapter{
			models.WorkflowManagerSlurm: params.SlurmAdapter,
			models.WorkflowManagerTower: params.TowerAdapter,
		},
	}
}

func (s *JobService) adapterFor(analysis *models.Analysis) (WorkflowAdapter, error) {
	adapter, ok := s.adapters[analysis.WorkflowManager]
	if !ok || adapter == nil {
		return nil, tberrors.NewInternal("no adapter for workflow manager %q", analysis.WorkflowManager)
	}
	return adapter, nil
}

// UpdateJobs refreshes the analysis job set from the owning back-end.
func (s *JobService) UpdateJobs(ctx context.Context, analysis *models.Analysis) error {
	adapter, err := s.adapterFor(analysis)
	if err != nil {
		return err
	}
	return adapter.UpdateJobs(ctx, analysis)
}

// GetAnalysisStatus folds the back-end view into an analysis status.
// CANCELLED is terminal and sticky: whatever the back-end reports afterwards
// never overrides it.
func (s *JobService) GetAnalysisStatus(ctx context.Context, analysis *models.Analysis) (models.Status, error) {
	if analysis.Status == models.StatusCancelled {
		return models.StatusCancelled, nil
	}
	adapter, err := s.adapterFor(analysis)
	if err != nil {
		return "", err
	}
	return adapter.GetStatus(ctx, analysis)
}

// GetAnalysisProgression returns the completed fraction in [0, 1].
func (s *JobService) GetAnalysisProgression(ctx context.Context, analysis *models.Analysis) (float64, error) {
	adapter, err := s.adapterFor(analysis)
	if err != nil {
		return 0, err
	}
	return adapter.GetProgress(ctx, analysis)
}

// CancelJobs routes cancellation to the owning back-end.
func (s *JobService) CancelJobs(ctx context.Context, analysis *models.Analysis) error {
	adapter, err := s.adapterFor(analysis)
	if err != nil {
		return err
	}
	return adapter.CancelJobs(ctx, analysis)
}

// UpdateUploadJobs refreshes every ongoing upload job across all analyses.
// Upload jobs are always scheduler-managed, whatever runs the analysis. One
// bad job does not stop the sweep.
func (s *JobService) UpdateUploadJobs(ctx context.Context) error {
	jobs, err := s.store.GetOngoingUploadJobs(ctx)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, job := range jobs {
		info, err := s.slurmClient.GetJob(ctx, job.SlurmID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Uint("JobID", job.ID).
				Int("SlurmID", job.SlurmID).
				Msg("failed to refresh upload job")
			result = multierror.Append(result, err)
			continue
		}
		if info.Name == "" {
			info.Name = job.Name
		}
		if err := s.store.UpdateJob(ctx, job.ID, info); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

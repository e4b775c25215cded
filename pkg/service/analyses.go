package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// AnalysisService owns the analysis lifecycle: creation, queries, mutation,
// summaries and the reconciliation entry points the background driver calls.
type AnalysisService struct {
	store *store.Store
	jobs  *JobService
	clock clock.Clock
}

type AnalysisServiceParams struct {
	Store *store.Store
	Jobs  *JobService
	Clock clock.Clock
}

func NewAnalysisService(params AnalysisServiceParams) *AnalysisService {
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	return &AnalysisService{store: params.Store, jobs: params.Jobs, clock: c}
}

// GetAnalyses returns one page of analyses plus the total count, each row
// enriched with its latest failed job.
func (s *AnalysisService) GetAnalyses(ctx context.Context, req *models.AnalysesRequest) ([]*models.Analysis, int64, error) {
	analyses, total, err := s.store.GetPaginatedAnalyses(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	for _, analysis := range analyses {
		if err := s.enrichFailedJob(ctx, analysis); err != nil {
			return nil, 0, err
		}
	}
	return analyses, total, nil
}

func (s *AnalysisService) GetAnalysis(ctx context.Context, id uint) (*models.Analysis, error) {
	analysis, err := s.store.GetAnalysisWithID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.enrichFailedJob(ctx, analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

func (s *AnalysisService) enrichFailedJob(ctx context.Context, analysis *models.Analysis) error {
	failed, err := s.store.GetLatestFailedJob(ctx, analysis.ID)
	if err != nil {
		return err
	}
	analysis.FailedJob = failed
	return nil
}

func (s *AnalysisService) AddPendingAnalysis(ctx context.Context, req models.CreateAnalysisRequest) (*models.Analysis, error) {
	return s.store.AddPendingAnalysis(ctx, req)
}

func (s *AnalysisService) UpdateAnalysis(
	ctx context.Context,
	id uint,
	patch *models.UpdateAnalysisRequest,
	user *models.User,
) (*models.Analysis, error) {
	return s.store.UpdateAnalysis(ctx, id, patch, user)
}

// UpdateAnalyses applies bulk patches in order. Each item commits on its own;
// the first failure stops the run, leaving earlier items persisted.
func (s *AnalysisService) UpdateAnalyses(
	ctx context.Context,
	patches []models.UpdateAnalysisRequest,
	user *models.User,
) ([]*models.Analysis, error) {
	updated := make([]*models.Analysis, 0, len(patches))
	for i := range patches {
		patch := patches[i]
		analysis, err := s.store.UpdateAnalysis(ctx, patch.ID, &patch, user)
		if err != nil {
			return nil, tberrors.Wrap(err, tberrors.KindOf(err), "update %d of %d (analysis %d) failed", i+1, len(patches), patch.ID)
		}
		updated = append(updated, analysis)
	}
	return updated, nil
}

func (s *AnalysisService) AddJob(ctx context.Context, analysisID uint, req models.CreateJobRequest) (*models.Job, error) {
	return s.store.AddJob(ctx, analysisID, req)
}

func (s *AnalysisService) DeleteAnalysis(ctx context.Context, id uint, force bool) error {
	return s.store.DeleteAnalysis(ctx, id, force)
}

// CancelAnalysis cancels toward the back-end and the store. The back-end call
// is advisory: its failure is logged, the store transition is authoritative
// and the operation reports success.
func (s *AnalysisService) CancelAnalysis(ctx context.Context, id uint, user *models.User) error {
	analysis, err := s.store.GetAnalysisWithID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.jobs.CancelJobs(ctx, analysis); err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Uint("AnalysisID", id).
			Msg("back-end cancellation failed; store cancellation proceeds")
	}

	if user != nil {
		comment := fmt.Sprintf("cancelled by %s", user.Abbreviation)
		if err := s.store.AppendAnalysisComment(ctx, id, comment); err != nil {
			return err
		}
	}
	return s.store.UpdateAnalysisStatus(ctx, id, models.StatusCancelled)
}

// GetInfo returns the deployment metadata row.
func (s *AnalysisService) GetInfo(ctx context.Context) (*models.Info, error) {
	return s.store.GetInfo(ctx)
}

// GetSummaries aggregates the latest analysis per case within each requested
// order.
func (s *AnalysisService) GetSummaries(ctx context.Context, orderIDs []int) ([]models.Summary, error) {
	summaries := make([]models.Summary, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		latest, err := s.store.GetLatestAnalysesForOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.Summary{
			OrderID: orderID,
			Total:   len(latest),
			Delivered: lo.CountBy(latest, func(a *models.Analysis) bool {
				return a.Status == models.StatusCompleted
			}),
			Running: lo.CountBy(latest, func(a *models.Analysis) bool {
				return a.Status == models.StatusRunning
			}),
			Cancelled: lo.CountBy(latest, func(a *models.Analysis) bool {
				return a.Status == models.StatusCancelled
			}),
			Failed: lo.CountBy(latest, func(a *models.Analysis) bool {
				return a.Status == models.StatusFailed
			}),
		})
	}
	return summaries, nil
}

// GetFailedJobsStats returns the failed-jobs histogram for the trailing
// window. A zero or negative window is empty by definition.
func (s *AnalysisService) GetFailedJobsStats(ctx context.Context, daysBack int) ([]models.FailedJobStat, error) {
	if daysBack <= 0 {
		return []models.FailedJobStat{}, nil
	}
	since := s.clock.Now().UTC().AddDate(0, 0, -daysBack)
	return s.store.GetFailedJobsStats(ctx, since)
}

// UpdateOngoingAnalyses is the reconciliation entry point. Every ongoing
// analysis is refreshed against its back-end; a failure on one analysis marks
// that analysis ERROR and never halts the tick.
func (s *AnalysisService) UpdateOngoingAnalyses(ctx context.Context) error {
	analyses, err := s.store.GetOngoingAnalyses(ctx)
	if err != nil {
		return err
	}

	for _, analysis := range analyses {
		if err := s.updateAnalysisMetaData(ctx, analysis); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Uint("AnalysisID", analysis.ID).
				Str("CaseID", analysis.CaseID).
				Msg("failed to reconcile analysis")
			if err := s.store.UpdateAnalysisStatus(ctx, analysis.ID, models.StatusError); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Uint("AnalysisID", analysis.ID).
					Msg("failed to mark analysis as errored")
			}
		}
	}
	return nil
}

// updateAnalysisMetaData pulls job state from the owning back-end and folds
// it into the stored status and progress.
func (s *AnalysisService) updateAnalysisMetaData(ctx context.Context, analysis *models.Analysis) error {
	if err := s.jobs.UpdateJobs(ctx, analysis); err != nil {
		return err
	}

	progress, err := s.jobs.GetAnalysisProgression(ctx, analysis)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAnalysisProgress(ctx, analysis.ID, progress); err != nil {
		return err
	}

	status, err := s.jobs.GetAnalysisStatus(ctx, analysis)
	if err != nil {
		return err
	}
	return s.store.UpdateAnalysisStatus(ctx, analysis.ID, status)
}

// UpdateUploadingAnalyses refreshes open upload jobs and stamps uploaded_at
// on each analysis whose upload jobs have all completed.
func (s *AnalysisService) UpdateUploadingAnalyses(ctx context.Context) error {
	open, err := s.store.GetOngoingUploadJobs(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	if err := s.jobs.UpdateUploadJobs(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("some upload jobs could not be refreshed")
	}

	analysisIDs := lo.Uniq(lo.Map(open, func(job models.Job, _ int) uint {
		return job.AnalysisID
	}))

	for _, analysisID := range analysisIDs {
		if err := s.stampUploadedIfDone(ctx, analysisID); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Uint("AnalysisID", analysisID).
				Msg("failed to update upload state")
		}
	}
	return nil
}

func (s *AnalysisService) stampUploadedIfDone(ctx context.Context, analysisID uint) error {
	analysis, err := s.store.GetAnalysisWithID(ctx, analysisID)
	if err != nil {
		return err
	}
	if analysis.UploadedAt != nil {
		return nil
	}

	jobs, err := s.store.GetJobs(ctx, analysisID, models.JobTypeUpload)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	allCompleted := lo.EveryBy(jobs, func(job models.Job) bool {
		return job.Status == models.JobStatusCompleted
	})
	if !allCompleted {
		return nil
	}
	return s.store.UpdateAnalysisUploadDate(ctx, analysisID, s.clock.Now().UTC().Truncate(time.Second))
}

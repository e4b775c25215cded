package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// AddJob attaches a freshly submitted back-end job to an analysis.
func (s *Store) AddJob(ctx context.Context, analysisID uint, req models.CreateJobRequest) (*models.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	row := Job{
		AnalysisID: analysisID,
		SlurmID:    req.SlurmID,
		Name:       req.Name,
		Status:     string(models.JobStatusPending),
		JobType:    string(req.JobType),
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Analysis{}).Where("id = ?", analysisID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return tberrors.NewNotFound("analysis %d does not exist", analysisID)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}
	job := row.AsJob()
	return &job, nil
}

// GetJobs returns the jobs of one type under an analysis.
func (s *Store) GetJobs(ctx context.Context, analysisID uint, jobType models.JobType) ([]models.Job, error) {
	var rows []Job
	err := s.DB.WithContext(ctx).
		Where("analysis_id = ? AND job_type = ?", analysisID, string(jobType)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Job, len(rows))
	for i := range rows {
		out[i] = rows[i].AsJob()
	}
	return out, nil
}

// UpdateJob refreshes a job row from the uniform back-end view.
func (s *Store) UpdateJob(ctx context.Context, jobID uint, info models.JobInfo) error {
	res := s.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"name":       info.Name,
		"status":     string(info.Status),
		"started_at": info.StartedAt,
		"elapsed":    info.ElapsedMinutes,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tberrors.NewNotFound("job %d does not exist", jobID)
	}
	return nil
}

// UpsertJob updates the job with the same native handle under the analysis,
// inserting it when absent. Used by the Tower adapter, where the task set is
// discovered rather than registered.
func (s *Store) UpsertJob(ctx context.Context, analysisID uint, info models.JobInfo) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Job
		err := tx.
			Where("analysis_id = ? AND slurm_id = ? AND job_type = ?",
				analysisID, info.SlurmID, string(models.JobTypeAnalysis)).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Job{
				AnalysisID: analysisID,
				SlurmID:    info.SlurmID,
				Name:       info.Name,
				Status:     string(info.Status),
				StartedAt:  info.StartedAt,
				Elapsed:    info.ElapsedMinutes,
				JobType:    string(models.JobTypeAnalysis),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]any{
			"name":       info.Name,
			"status":     string(info.Status),
			"started_at": info.StartedAt,
			"elapsed":    info.ElapsedMinutes,
		}).Error
	})
}

// ReplaceAnalysisJobs swaps the analysis-type job set for the given uniform
// views. Upload jobs are never touched.
func (s *Store) ReplaceAnalysisJobs(ctx context.Context, analysisID uint, infos []models.JobInfo) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteAnalysisJobs(tx, analysisID); err != nil {
			return err
		}
		for _, info := range infos {
			row := Job{
				AnalysisID: analysisID,
				SlurmID:    info.SlurmID,
				Name:       info.Name,
				Status:     string(info.Status),
				StartedAt:  info.StartedAt,
				Elapsed:    info.ElapsedMinutes,
				JobType:    string(models.JobTypeAnalysis),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAnalysisJobs deletes the analysis-type jobs of an analysis, leaving
// upload jobs intact.
func (s *Store) DeleteAnalysisJobs(ctx context.Context, analysisID uint) error {
	return deleteAnalysisJobs(s.DB.WithContext(ctx), analysisID)
}

func deleteAnalysisJobs(tx *gorm.DB, analysisID uint) error {
	return tx.
		Where("analysis_id = ? AND job_type = ?", analysisID, string(models.JobTypeAnalysis)).
		Delete(&Job{}).Error
}

// GetOngoingUploadJobs returns every upload job that is still pending,
// running or completing, across all analyses.
func (s *Store) GetOngoingUploadJobs(ctx context.Context) ([]models.Job, error) {
	statuses := make([]string, len(models.OngoingJobStatuses))
	for i, st := range models.OngoingJobStatuses {
		statuses[i] = string(st)
	}
	var rows []Job
	err := s.DB.WithContext(ctx).
		Where("job_type = ? AND status IN ?", string(models.JobTypeUpload), statuses).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Job, len(rows))
	for i := range rows {
		out[i] = rows[i].AsJob()
	}
	return out, nil
}

// GetLatestFailedJob returns the most recent failed analysis job, or nil.
func (s *Store) GetLatestFailedJob(ctx context.Context, analysisID uint) (*models.Job, error) {
	var row Job
	err := s.DB.WithContext(ctx).
		Where("analysis_id = ? AND status = ? AND job_type = ?",
			analysisID, string(models.JobStatusFailed), string(models.JobTypeAnalysis)).
		Order("started_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job := row.AsJob()
	return &job, nil
}

// GetFailedJobsStats returns the failed-jobs histogram grouped by job name
// for jobs started after since.
func (s *Store) GetFailedJobsStats(ctx context.Context, since time.Time) ([]models.FailedJobStat, error) {
	var stats []models.FailedJobStat
	err := s.DB.WithContext(ctx).
		Model(&Job{}).
		Select("name, count(*) as count").
		Where("status = ? AND started_at > ?", string(models.JobStatusFailed), since.UTC()).
		Group("name").
		Order("count DESC").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

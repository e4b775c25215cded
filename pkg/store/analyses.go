package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// AddPendingAnalysis validates and persists a new analysis attempt with
// status pending and started_at set to now. A duplicate
// (case_id, started_at, status) triple is rejected with a conflict; callers
// resolve by mutating the existing row instead.
func (s *Store) AddPendingAnalysis(ctx context.Context, req models.CreateAnalysisRequest) (*models.Analysis, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	row := Analysis{
		CaseID:          req.CaseID,
		StartedAt:       s.now(),
		Status:          string(models.StatusPending),
		OrderID:         req.OrderID,
		Workflow:        req.Workflow,
		WorkflowManager: string(req.WorkflowManager),
		Type:            string(req.Type),
		Priority:        string(req.Priority),
		ConfigPath:      req.ConfigPath,
		OutDir:          req.OutDir,
		TicketID:        req.Ticket,
		TowerWorkflowID: req.TowerWorkflowID,
		IsVisible:       true,
	}
	if req.IsVisible != nil {
		row.IsVisible = *req.IsVisible
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Email != "" {
			var user User
			if err := tx.Where("email = ?", req.Email).First(&user).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return tberrors.NewNotFound("user with email %s does not exist", req.Email)
				}
				return err
			}
			row.UserID = &user.ID
		}
		if err := tx.Create(&row).Error; err != nil {
			return translate(err, fmt.Sprintf("analysis for case %s", req.CaseID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAnalysisWithID(ctx, row.ID)
}

// GetAnalysisWithID loads one analysis with its associations.
func (s *Store) GetAnalysisWithID(ctx context.Context, id uint) (*models.Analysis, error) {
	var row Analysis
	err := s.DB.WithContext(ctx).
		Preload("User").
		Preload("Delivery").
		Preload("Delivery.DeliveredBy").
		Preload("Jobs").
		First(&row, id).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("analysis %d", id))
	}
	return row.AsAnalysis(), nil
}

// GetLatestAnalysisForCase returns the analysis with the greatest started_at
// for the case.
func (s *Store) GetLatestAnalysisForCase(ctx context.Context, caseID string) (*models.Analysis, error) {
	var row Analysis
	err := s.DB.WithContext(ctx).
		Preload("User").
		Preload("Delivery").
		Preload("Jobs").
		Where("case_id = ?", caseID).
		Order("started_at DESC, id DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("analysis for case %s", caseID))
	}
	return row.AsAnalysis(), nil
}

// GetAnalysesForCase returns every attempt for a case, newest first.
func (s *Store) GetAnalysesForCase(ctx context.Context, caseID string) ([]*models.Analysis, error) {
	var rows []Analysis
	err := s.DB.WithContext(ctx).
		Preload("Delivery").
		Where("case_id = ?", caseID).
		Order("started_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Analysis, len(rows))
	for i := range rows {
		out[i] = rows[i].AsAnalysis()
	}
	return out, nil
}

// GetLatestAnalysesForOrder returns at most one analysis per case within the
// order: the most recent attempt.
func (s *Store) GetLatestAnalysesForOrder(ctx context.Context, orderID int) ([]*models.Analysis, error) {
	var rows []Analysis
	err := s.DB.WithContext(ctx).
		Preload("Delivery").
		Where("order_id = ?", orderID).
		Order("started_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []*models.Analysis
	for i := range rows {
		if _, ok := seen[rows[i].CaseID]; ok {
			continue
		}
		seen[rows[i].CaseID] = struct{}{}
		out = append(out, rows[i].AsAnalysis())
	}
	return out, nil
}

// GetOngoingAnalyses returns all analyses a reconcile tick should revisit.
func (s *Store) GetOngoingAnalyses(ctx context.Context) ([]*models.Analysis, error) {
	var rows []Analysis
	err := s.DB.WithContext(ctx).
		Preload("Jobs").
		Where("status IN ?", statusStrings(models.OngoingStatuses)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*models.Analysis, len(rows))
	for i := range rows {
		out[i] = rows[i].AsAnalysis()
	}
	return out, nil
}

// UpdateAnalysis applies a partial update in one transaction. Comment
// semantics: non-empty replaces, empty string clears. is_delivered toggles
// the Delivery row idempotently.
func (s *Store) UpdateAnalysis(
	ctx context.Context,
	id uint,
	patch *models.UpdateAnalysisRequest,
	user *models.User,
) (*models.Analysis, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Analysis
		if err := tx.Preload("Delivery").First(&row, id).Error; err != nil {
			return translate(err, fmt.Sprintf("analysis %d", id))
		}

		updates := map[string]any{}
		if patch.Comment != nil {
			updates["comment"] = *patch.Comment
		}
		if patch.IsVisible != nil {
			updates["is_visible"] = *patch.IsVisible
		}
		if patch.Status != nil {
			if models.Status(row.Status) == models.StatusCancelled && *patch.Status != models.StatusCancelled {
				return tberrors.NewInvalidInput("analysis %d is cancelled and cannot change status", id)
			}
			updates["status"] = string(*patch.Status)
			if *patch.Status == models.StatusCompleted && row.CompletedAt == nil {
				updates["completed_at"] = s.now()
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(&row).Updates(updates).Error; err != nil {
				return err
			}
		}

		if patch.IsDelivered != nil {
			if err := s.setDelivered(tx, &row, *patch.IsDelivered, user); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAnalysisWithID(ctx, id)
}

// setDelivered creates or removes the Delivery row. Both directions are
// idempotent; the unique analysis_id index resolves concurrent creates.
func (s *Store) setDelivered(tx *gorm.DB, row *Analysis, delivered bool, user *models.User) error {
	if !delivered {
		return tx.Where("analysis_id = ?", row.ID).Delete(&Delivery{}).Error
	}
	if row.Delivery != nil {
		return nil
	}
	delivery := Delivery{
		ID:          uuid.NewString(),
		AnalysisID:  row.ID,
		DeliveredAt: s.now(),
	}
	if user != nil {
		delivery.DeliveredByID = &user.ID
	}
	if err := tx.Create(&delivery).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	}
	return nil
}

// UpdateAnalysisStatus writes the status with a single guarded row update so
// that CANCELLED stays sticky under concurrent writers.
func (s *Store) UpdateAnalysisStatus(ctx context.Context, id uint, status models.Status) error {
	if !status.IsValid() {
		return tberrors.NewInvalidInput("unknown status %q", status)
	}
	updates := map[string]any{"status": string(status)}
	if status == models.StatusCompleted {
		updates["completed_at"] = s.now()
	}
	res := s.DB.WithContext(ctx).
		Model(&Analysis{}).
		Where("id = ?", id).
		Where("status <> ?", string(models.StatusCancelled)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.DB.WithContext(ctx).Model(&Analysis{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return tberrors.NewNotFound("analysis %d does not exist", id)
		}
		// row exists but is cancelled: sticky, nothing to do
	}
	return nil
}

// UpdateAnalysisProgress clamps and persists the progress fraction.
func (s *Store) UpdateAnalysisProgress(ctx context.Context, id uint, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	res := s.DB.WithContext(ctx).Model(&Analysis{}).Where("id = ?", id).Update("progress", progress)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tberrors.NewNotFound("analysis %d does not exist", id)
	}
	return nil
}

// UpdateAnalysisUploadDate stamps uploaded_at.
func (s *Store) UpdateAnalysisUploadDate(ctx context.Context, id uint, uploadedAt time.Time) error {
	res := s.DB.WithContext(ctx).Model(&Analysis{}).Where("id = ?", id).Update("uploaded_at", uploadedAt.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tberrors.NewNotFound("analysis %d does not exist", id)
	}
	return nil
}

// AppendAnalysisComment appends text to the stored comment, separated by a
// single space when a prior comment exists.
func (s *Store) AppendAnalysisComment(ctx context.Context, id uint, text string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Analysis
		if err := tx.First(&row, id).Error; err != nil {
			return translate(err, fmt.Sprintf("analysis %d", id))
		}
		comment := text
		if row.Comment != "" {
			comment = row.Comment + " " + text
		}
		return tx.Model(&row).Update("comment", comment).Error
	})
}

// DeleteAnalysis removes an analysis with its jobs and delivery. Ongoing
// analyses are protected unless force is set.
func (s *Store) DeleteAnalysis(ctx context.Context, id uint, force bool) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Analysis
		if err := tx.First(&row, id).Error; err != nil {
			return translate(err, fmt.Sprintf("analysis %d", id))
		}
		if models.Status(row.Status).IsOngoing() && !force {
			return tberrors.NewConflict("analysis %d is %s; use force to delete", id, row.Status)
		}
		if err := tx.Where("analysis_id = ?", id).Delete(&Job{}).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", id).Delete(&Delivery{}).Error; err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

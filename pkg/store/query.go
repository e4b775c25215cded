package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
)

// GetPaginatedAnalyses runs the filter record against the analysis table and
// returns one page of rows plus the total count before pagination.
func (s *Store) GetPaginatedAnalyses(ctx context.Context, req *models.AnalysesRequest) ([]*models.Analysis, int64, error) {
	if err := req.Normalize(); err != nil {
		return nil, 0, err
	}

	base := applyAnalysisFilters(s.DB.WithContext(ctx).Model(&Analysis{}), req)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Analysis
	err := base.
		Preload("User").
		Preload("Delivery").
		Preload("Delivery.DeliveredBy").
		Order(fmt.Sprintf("%s %s, id DESC", req.SortField, req.SortOrder)).
		Offset(req.Offset()).
		Limit(req.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	out := make([]*models.Analysis, len(rows))
	for i := range rows {
		out[i] = rows[i].AsAnalysis()
	}
	return out, total, nil
}

// applyAnalysisFilters folds only the present fields of the request into the
// query. The sort field and order were validated by Normalize, so they are
// safe to interpolate.
func applyAnalysisFilters(db *gorm.DB, req *models.AnalysesRequest) *gorm.DB {
	if len(req.Statuses) > 0 {
		db = db.Where("status IN ?", statusStrings(req.Statuses))
	}
	if len(req.Priorities) > 0 {
		values := make([]string, len(req.Priorities))
		for i, p := range req.Priorities {
			values[i] = string(p)
		}
		db = db.Where("priority IN ?", values)
	}
	if len(req.Types) > 0 {
		values := make([]string, len(req.Types))
		for i, t := range req.Types {
			values[i] = string(t)
		}
		db = db.Where("type IN ?", values)
	}
	if len(req.Workflows) > 0 {
		db = db.Where("workflow IN ?", req.Workflows)
	}
	if len(req.Comments) > 0 || req.HasEmptyComment {
		db = db.Where(commentCondition(db, req))
	}
	if req.OrderID != nil {
		db = db.Where("order_id = ?", *req.OrderID)
	}
	if req.CaseIDContains != "" {
		db = db.Where("case_id LIKE ?", "%"+req.CaseIDContains+"%")
	}
	if req.IsVisible != nil {
		db = db.Where("is_visible = ?", *req.IsVisible)
	}
	if req.Search != "" {
		pattern := "%" + req.Search + "%"
		db = db.Where("case_id LIKE ? OR ticket_id LIKE ? OR comment LIKE ?", pattern, pattern, pattern)
	}
	return db
}

// commentCondition matches the requested comment values; an empty value in
// the filter matches rows whose comment is null or empty.
func commentCondition(db *gorm.DB, req *models.AnalysesRequest) *gorm.DB {
	var values []string
	matchEmpty := req.HasEmptyComment
	for _, c := range req.Comments {
		if c == "" {
			matchEmpty = true
			continue
		}
		values = append(values, c)
	}

	session := db.Session(&gorm.Session{NewDB: true})
	switch {
	case matchEmpty && len(values) > 0:
		return session.Where("comment IN ?", values).Or("comment IS NULL OR comment = ''")
	case matchEmpty:
		return session.Where("comment IS NULL OR comment = ''")
	default:
		return session.Where("comment IN ?", values)
	}
}

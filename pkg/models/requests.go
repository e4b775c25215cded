package models

import (
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// Sortable analysis fields. Anything else is rejected before it reaches SQL.
var AnalysisSortFields = map[string]struct{}{
	"started_at": {},
	"case_id":    {},
	"status":     {},
	"priority":   {},
	"type":       {},
	"workflow":   {},
	"order_id":   {},
	"ticket_id":  {},
}

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// AnalysesRequest is the closed filter record for analysis queries. Only the
// fields that are present are folded into the query.
type AnalysesRequest struct {
	Statuses        []Status
	Priorities      []Priority
	Types           []AnalysisType
	Workflows       []string
	Comments        []string
	HasEmptyComment bool
	OrderID         *int
	CaseIDContains  string
	IsVisible       *bool

	// Search is matched against case_id, ticket_id and comment.
	Search string

	SortField string
	SortOrder string

	Page     int
	PageSize int
}

// Normalize applies defaults, clamps the page size and validates the sort
// whitelist and enum filters.
func (r *AnalysesRequest) Normalize() error {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = DefaultPageSize
	}
	if r.PageSize > MaxPageSize {
		r.PageSize = MaxPageSize
	}
	if r.SortField == "" {
		r.SortField = "started_at"
	}
	if _, ok := AnalysisSortFields[r.SortField]; !ok {
		return tberrors.NewInvalidInput("cannot sort by %q", r.SortField)
	}
	switch r.SortOrder {
	case "":
		r.SortOrder = "desc"
	case "asc", "desc":
	default:
		return tberrors.NewInvalidInput("sort order must be asc or desc, got %q", r.SortOrder)
	}
	for _, s := range r.Statuses {
		if !s.IsValid() {
			return tberrors.NewInvalidInput("unknown status filter %q", s)
		}
	}
	for _, p := range r.Priorities {
		if !p.IsValid() {
			return tberrors.NewInvalidInput("unknown priority filter %q", p)
		}
	}
	for _, t := range r.Types {
		if !t.IsValid() {
			return tberrors.NewInvalidInput("unknown type filter %q", t)
		}
	}
	return nil
}

// Offset returns the row offset for the current page.
func (r *AnalysesRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// CreateAnalysisRequest is the body of POST /add-pending-analysis.
type CreateAnalysisRequest struct {
	CaseID          string          `json:"case_id"`
	ConfigPath      string          `json:"config_path,omitempty"`
	Email           string          `json:"email,omitempty"`
	OrderID         *int            `json:"order_id,omitempty"`
	OutDir          string          `json:"out_dir,omitempty"`
	Priority        Priority        `json:"priority"`
	Ticket          string          `json:"ticket,omitempty"`
	TowerWorkflowID string          `json:"tower_workflow_id,omitempty"`
	Type            AnalysisType    `json:"type"`
	Workflow        string          `json:"workflow,omitempty"`
	WorkflowManager WorkflowManager `json:"workflow_manager,omitempty"`
	IsVisible       *bool           `json:"is_visible,omitempty"`
}

// Validate enforces the request invariants, most importantly that a
// Slurm-managed analysis names its config file.
func (r *CreateAnalysisRequest) Validate() error {
	if r.CaseID == "" {
		return tberrors.NewInvalidInput("case_id is required")
	}
	if r.WorkflowManager == "" {
		r.WorkflowManager = WorkflowManagerSlurm
	}
	if !r.WorkflowManager.IsValid() {
		return tberrors.NewInvalidInput("unknown workflow manager %q", r.WorkflowManager)
	}
	if r.WorkflowManager == WorkflowManagerSlurm && r.ConfigPath == "" {
		return tberrors.NewInvalidInput("config_path is required for slurm-managed analyses")
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.IsValid() {
		return tberrors.NewInvalidInput("unknown priority %q", r.Priority)
	}
	if r.Type == "" {
		r.Type = TypeOther
	}
	if !r.Type.IsValid() {
		return tberrors.NewInvalidInput("unknown analysis type %q", r.Type)
	}
	return nil
}

// UpdateAnalysisRequest is a partial update of one analysis. Nil fields are
// left untouched. An empty comment string clears the comment.
type UpdateAnalysisRequest struct {
	ID          uint    `json:"id,omitempty"`
	Status      *Status `json:"status,omitempty"`
	Comment     *string `json:"comment,omitempty"`
	IsVisible   *bool   `json:"is_visible,omitempty"`
	IsDelivered *bool   `json:"is_delivered,omitempty"`
}

func (r *UpdateAnalysisRequest) Validate() error {
	if r.Status != nil && !r.Status.IsValid() {
		return tberrors.NewInvalidInput("unknown status %q", *r.Status)
	}
	return nil
}

// CreateJobRequest is the body of POST /analyses/{id}/jobs.
type CreateJobRequest struct {
	Name    string  `json:"name"`
	SlurmID int     `json:"slurm_id"`
	JobType JobType `json:"job_type,omitempty"`
}

func (r *CreateJobRequest) Validate() error {
	if r.Name == "" {
		return tberrors.NewInvalidInput("job name is required")
	}
	if r.SlurmID == 0 {
		return tberrors.NewInvalidInput("slurm_id is required")
	}
	if r.JobType == "" {
		r.JobType = JobTypeAnalysis
	}
	if !r.JobType.IsValid() {
		return tberrors.NewInvalidInput("unknown job type %q", r.JobType)
	}
	return nil
}

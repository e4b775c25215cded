package models

import "time"

// User is an operator of the tracker. Users are never deleted, only archived.
type User struct {
	ID           uint      `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	GoogleID     string    `json:"google_id,omitempty"`
	IsArchived   bool      `json:"is_archived"`
	CreatedAt    time.Time `json:"created_at"`

	// RefreshToken is stored encrypted and never serialized.
	RefreshToken string `json:"-"`
}

// Analysis is one attempt to run one workflow over one case.
type Analysis struct {
	ID              uint            `json:"id"`
	CaseID          string          `json:"case_id"`
	OrderID         *int            `json:"order_id,omitempty"`
	Workflow        string          `json:"workflow,omitempty"`
	WorkflowManager WorkflowManager `json:"workflow_manager"`
	Type            AnalysisType    `json:"type"`
	Priority        Priority        `json:"priority"`
	Status          Status          `json:"status"`
	Progress        float64         `json:"progress"`
	ConfigPath      string          `json:"config_path,omitempty"`
	OutDir          string          `json:"out_dir,omitempty"`
	TicketID        string          `json:"ticket_id,omitempty"`
	TowerWorkflowID string          `json:"tower_workflow_id,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	UploadedAt      *time.Time      `json:"uploaded_at,omitempty"`
	LoggedAt        *time.Time      `json:"logged_at,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	IsVisible       bool            `json:"is_visible"`

	User     *User     `json:"user,omitempty"`
	Delivery *Delivery `json:"delivery,omitempty"`

	// Jobs holds analysis-type jobs; UploadJobs the delivery-side set.
	Jobs       []Job `json:"jobs,omitempty"`
	UploadJobs []Job `json:"upload_jobs,omitempty"`

	// FailedJob is the latest failed job, filled in on list/detail reads.
	FailedJob *Job `json:"failed_job,omitempty"`
}

// IsOngoing reports whether a reconcile tick should revisit the analysis.
func (a *Analysis) IsOngoing() bool {
	return a.Status.IsOngoing()
}

// IsDelivered reports whether a delivery has been recorded.
func (a *Analysis) IsDelivered() bool {
	return a.Delivery != nil
}

// Job is one scheduled unit under an analysis. SlurmID is the native handle
// in either back-end (Tower tasks expose it as nativeId).
type Job struct {
	ID         uint       `json:"id"`
	AnalysisID uint       `json:"analysis_id"`
	SlurmID    int        `json:"slurm_id"`
	Name       string     `json:"name"`
	Status     JobStatus  `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Elapsed    int        `json:"elapsed"`
	JobType    JobType    `json:"job_type"`
}

// JobInfo is the uniform view of a back-end job, produced by both adapters.
type JobInfo struct {
	SlurmID        int
	Name           string
	Status         JobStatus
	StartedAt      *time.Time
	ElapsedMinutes int
}

// Delivery marks an analysis as delivered. At most one per analysis.
type Delivery struct {
	ID          string    `json:"id"`
	AnalysisID  uint      `json:"analysis_id"`
	DeliveredBy *User     `json:"delivered_by,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Info is the singleton metadata row.
type Info struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary aggregates the latest analysis per case within one order.
type Summary struct {
	OrderID   int `json:"order_id"`
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Running   int `json:"running"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// FailedJobStat is one bucket of the failed-jobs histogram.
type FailedJobStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

package store

import (
	"time"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
)

// User row. Refresh tokens are stored encrypted (pkg/crypt).
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	Abbreviation string  `gorm:"uniqueIndex;not null"`
	GoogleID     *string `gorm:"uniqueIndex"`
	IsArchived   bool    `gorm:"not null;default:false"`
	RefreshToken string
	CreatedAt    time.Time
}

func (User) TableName() string { return "user" }

// Analysis row. The (case_id, started_at, status) triple is unique so that
// conflicting inserts for the same attempt serialize at the database.
type Analysis struct {
	ID              uint      `gorm:"primaryKey"`
	CaseID          string    `gorm:"index;uniqueIndex:uix_analysis_attempt;not null"`
	StartedAt       time.Time `gorm:"uniqueIndex:uix_analysis_attempt"`
	Status          string    `gorm:"uniqueIndex:uix_analysis_attempt;index"`
	OrderID         *int      `gorm:"index"`
	Workflow        string
	WorkflowManager string
	Type            string
	Priority        string
	Progress        float64 `gorm:"not null;default:0"`
	ConfigPath      string
	OutDir          string
	TicketID        string
	TowerWorkflowID string
	CompletedAt     *time.Time
	UploadedAt      *time.Time
	LoggedAt        *time.Time
	Comment         string
	IsVisible       bool  `gorm:"not null;default:true"`
	UserID          *uint `gorm:"index"`

	User     *User     `gorm:"foreignKey:UserID"`
	Jobs     []Job     `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE"`
	Delivery *Delivery `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE"`
}

func (Analysis) TableName() string { return "analysis" }

// Job row. SlurmID is the native back-end handle; Tower tasks store their
// nativeId here as well.
type Job struct {
	ID         uint `gorm:"primaryKey"`
	AnalysisID uint `gorm:"index;not null"`
	SlurmID    int  `gorm:"index"`
	Name       string
	Context    string
	StartedAt  *time.Time
	Elapsed    int
	Status     string `gorm:"index"`
	JobType    string `gorm:"index;not null;default:analysis"`
}

func (Job) TableName() string { return "job" }

// Delivery row; at most one per analysis.
type Delivery struct {
	ID            string `gorm:"primaryKey"`
	AnalysisID    uint   `gorm:"uniqueIndex;not null"`
	DeliveredByID *uint
	DeliveredBy   *User `gorm:"foreignKey:DeliveredByID"`
	DeliveredAt   time.Time
}

func (Delivery) TableName() string { return "delivery" }

// Info singleton.
type Info struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Info) TableName() string { return "info" }

func (u *User) AsUser() *models.User {
	if u == nil {
		return nil
	}
	out := &models.User{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Abbreviation: u.Abbreviation,
		IsArchived:   u.IsArchived,
		CreatedAt:    u.CreatedAt,
		RefreshToken: u.RefreshToken,
	}
	if u.GoogleID != nil {
		out.GoogleID = *u.GoogleID
	}
	return out
}

func (j *Job) AsJob() models.Job {
	return models.Job{
		ID:         j.ID,
		AnalysisID: j.AnalysisID,
		SlurmID:    j.SlurmID,
		Name:       j.Name,
		Status:     models.JobStatus(j.Status),
		StartedAt:  j.StartedAt,
		Elapsed:    j.Elapsed,
		JobType:    models.JobType(j.JobType),
	}
}

func (d *Delivery) AsDelivery() *models.Delivery {
	if d == nil {
		return nil
	}
	return &models.Delivery{
		ID:          d.ID,
		AnalysisID:  d.AnalysisID,
		DeliveredBy: d.DeliveredBy.AsUser(),
		DeliveredAt: d.DeliveredAt,
	}
}

// AsAnalysis converts a row and its preloaded associations into the domain
// record, splitting the job set into its two logical views.
func (a *Analysis) AsAnalysis() *models.Analysis {
	out := &models.Analysis{
		ID:              a.ID,
		CaseID:          a.CaseID,
		OrderID:         a.OrderID,
		Workflow:        a.Workflow,
		WorkflowManager: models.WorkflowManager(a.WorkflowManager),
		Type:            models.AnalysisType(a.Type),
		Priority:        models.Priority(a.Priority),
		Status:          models.Status(a.Status),
		Progress:        a.Progress,
		ConfigPath:      a.ConfigPath,
		OutDir:          a.OutDir,
		TicketID:        a.TicketID,
		TowerWorkflowID: a.TowerWorkflowID,
		StartedAt:       a.StartedAt,
		CompletedAt:     a.CompletedAt,
		UploadedAt:      a.UploadedAt,
		LoggedAt:        a.LoggedAt,
		Comment:         a.Comment,
		IsVisible:       a.IsVisible,
		User:            a.User.AsUser(),
		Delivery:        a.Delivery.AsDelivery(),
	}
	for i := range a.Jobs {
		job := a.Jobs[i].AsJob()
		if job.JobType == models.JobTypeUpload {
			out.UploadJobs = append(out.UploadJobs, job)
		} else {
			out.Jobs = append(out.Jobs, job)
		}
	}
	return out
}

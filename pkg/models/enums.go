package models

import "fmt"

// Status is the analysis-level lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleting Status = "completing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
	StatusQC         Status = "qc"
)

// OngoingStatuses are the statuses a reconcile tick revisits.
var OngoingStatuses = []Status{StatusPending, StatusRunning, StatusCompleting, StatusError}

func Statuses() []Status {
	return []Status{
		StatusPending, StatusRunning, StatusCompleting, StatusCompleted,
		StatusFailed, StatusError, StatusCancelled, StatusQC,
	}
}

func (s Status) IsValid() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) IsOngoing() bool {
	for _, ongoing := range OngoingStatuses {
		if s == ongoing {
			return true
		}
	}
	return false
}

func ParseStatus(str string) (Status, error) {
	s := Status(str)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown analysis status %q", str)
	}
	return s, nil
}

// JobStatus is the uniform per-job state shared by both back-ends.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleting JobStatus = "completing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusTimeout    JobStatus = "timeout"
)

// OngoingJobStatuses mirror the analysis-level ongoing set; timeout counts as
// failed, not ongoing.
var OngoingJobStatuses = []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleting}

func JobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending, JobStatusRunning, JobStatusCompleting,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout,
	}
}

func (s JobStatus) IsValid() bool {
	for _, known := range JobStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

func (s JobStatus) IsOngoing() bool {
	for _, ongoing := range OngoingJobStatuses {
		if s == ongoing {
			return true
		}
	}
	return false
}

// WorkflowManager selects the back-end that runs an analysis.
type WorkflowManager string

const (
	WorkflowManagerSlurm WorkflowManager = "slurm"
	WorkflowManagerTower WorkflowManager = "nf_tower"
)

func (m WorkflowManager) IsValid() bool {
	return m == WorkflowManagerSlurm || m == WorkflowManagerTower
}

func ParseWorkflowManager(str string) (WorkflowManager, error) {
	m := WorkflowManager(str)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown workflow manager %q", str)
	}
	return m, nil
}

// AnalysisType is the kind of sequencing data the workflow processes.
type AnalysisType string

const (
	TypeWES   AnalysisType = "wes"
	TypeWGS   AnalysisType = "wgs"
	TypeRNA   AnalysisType = "rna"
	TypeTGS   AnalysisType = "tgs"
	TypeWTS   AnalysisType = "wts"
	TypeOther AnalysisType = "other"
)

func AnalysisTypes() []AnalysisType {
	return []AnalysisType{TypeWES, TypeWGS, TypeRNA, TypeTGS, TypeWTS, TypeOther}
}

func (t AnalysisType) IsValid() bool {
	for _, known := range AnalysisTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Priority is the scheduling priority requested for an analysis.
type Priority string

const (
	PriorityLow         Priority = "low"
	PriorityNormal      Priority = "normal"
	PriorityHigh        Priority = "high"
	PriorityExpress     Priority = "express"
	PriorityMaintenance Priority = "maintenance"
)

func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityExpress, PriorityMaintenance}
}

func (p Priority) IsValid() bool {
	for _, known := range Priorities() {
		if p == known {
			return true
		}
	}
	return false
}

// JobType separates the jobs that run the analysis from delivery-side upload
// jobs. The two sets are tracked independently.
type JobType string

const (
	JobTypeAnalysis JobType = "analysis"
	JobTypeUpload   JobType = "upload"
)

func (t JobType) IsValid() bool {
	return t == JobTypeAnalysis || t == JobTypeUpload
}

package slurm

import (
	"strings"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
)

// nativeStatuses maps scheduler states onto the uniform job states. States
// not listed here are terminal failures (NODE_FAIL, OUT_OF_MEMORY, ...).
var nativeStatuses = map[string]models.JobStatus{
	"PENDING":    models.JobStatusPending,
	"RUNNING":    models.JobStatusRunning,
	"COMPLETING": models.JobStatusCompleting,
	"COMPLETED":  models.JobStatusCompleted,
	"FAILED":     models.JobStatusFailed,
	"TIMEOUT":    models.JobStatusTimeout,
	"CANCELLED":  models.JobStatusCancelled,
}

// MapStatus normalizes a native scheduler state. "CANCELLED by <uid>"
// variants count as cancelled.
func MapStatus(native string) models.JobStatus {
	native = strings.ToUpper(strings.TrimSpace(native))
	if strings.HasPrefix(native, "CANCELLED") {
		return models.JobStatusCancelled
	}
	if status, ok := nativeStatuses[native]; ok {
		return status
	}
	return models.JobStatusFailed
}

// DeriveStatus folds the job statuses of one analysis into an analysis-level
// status. With a single distinct job status the analysis takes that status
// (timeout counts as failed). Otherwise: a failure alongside ongoing work is
// an error state needing attention, a failure with nothing ongoing is failed,
// ongoing work without failures is running, and anything else means the job
// set was cancelled.
func DeriveStatus(statuses []models.JobStatus) models.Status {
	distinct := map[models.JobStatus]struct{}{}
	for _, s := range statuses {
		distinct[s] = struct{}{}
	}

	if len(distinct) == 1 {
		single := statuses[0]
		if single == models.JobStatusTimeout {
			return models.StatusFailed
		}
		return models.Status(single)
	}

	var failedPresent, ongoingPresent bool
	for s := range distinct {
		switch {
		case s == models.JobStatusFailed || s == models.JobStatusTimeout:
			failedPresent = true
		case s.IsOngoing():
			ongoingPresent = true
		}
	}

	switch {
	case failedPresent && ongoingPresent:
		return models.StatusError
	case failedPresent:
		return models.StatusFailed
	case ongoingPresent:
		return models.StatusRunning
	default:
		return models.StatusCancelled
	}
}

package tower

import (
	"strings"
	"time"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// The platform emits timestamps in two shapes, with and without fractional
// seconds. Both are accepted; anything else is rejected.
var timeLayouts = []string{
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.999999999Z",
}

// Time is a platform timestamp.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return tberrors.NewInvalidInput("cannot parse workflow timestamp %q", raw)
}

// WorkflowResponse is the envelope of GET /workflow/{id}.
type WorkflowResponse struct {
	Workflow Workflow `json:"workflow"`
	Progress Progress `json:"progress"`
}

type Workflow struct {
	ID       string `json:"id"`
	RunName  string `json:"runName"`
	Status   string `json:"status"`
	Start    *Time  `json:"start"`
	Complete *Time  `json:"complete"`
}

type Progress struct {
	WorkflowProgress  WorkflowProgress  `json:"workflowProgress"`
	ProcessesProgress []ProcessProgress `json:"processesProgress"`
}

type WorkflowProgress struct {
	Pending   int `json:"pending"`
	Submitted int `json:"submitted"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
}

// ProcessProgress aggregates the tasks of one pipeline process.
type ProcessProgress struct {
	Process   string `json:"process"`
	Pending   int    `json:"pending"`
	Submitted int    `json:"submitted"`
	Running   int    `json:"running"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Cached    int    `json:"cached"`
}

// Complete reports whether every task of the process finished well.
func (p ProcessProgress) Complete() bool {
	return p.Succeeded+p.Cached > 0 &&
		p.Pending == 0 && p.Submitted == 0 && p.Running == 0 && p.Failed == 0
}

// TasksResponse is the envelope of GET /workflow/{id}/tasks.
type TasksResponse struct {
	Tasks []TaskWrapper `json:"tasks"`
	Total int           `json:"total"`
}

type TaskWrapper struct {
	Task Task `json:"task"`
}

type Task struct {
	ID       int    `json:"id"`
	NativeID string `json:"nativeId"`
	Process  string `json:"process"`
	Status   string `json:"status"`
	Start    *Time  `json:"start"`
	// Duration is reported in seconds.
	Duration int `json:"duration"`
}

// taskStatuses maps platform task states onto the uniform job states.
var taskStatuses = map[string]models.JobStatus{
	"SUBMITTED": models.JobStatusPending,
	"NEW":       models.JobStatusPending,
	"RUNNING":   models.JobStatusRunning,
	"SUCCEEDED": models.JobStatusCompleted,
	"CACHED":    models.JobStatusCompleted,
	"COMPLETED": models.JobStatusCompleted,
	"ABORTED":   models.JobStatusFailed,
	"FAILED":    models.JobStatusFailed,
	"UNKNOWN":   models.JobStatusFailed,
	"CANCELLED": models.JobStatusCancelled,
}

// MapTaskStatus normalizes a platform task state. Unlisted states count as
// failed.
func MapTaskStatus(native string) models.JobStatus {
	if status, ok := taskStatuses[strings.ToUpper(strings.TrimSpace(native))]; ok {
		return status
	}
	return models.JobStatusFailed
}

// MapWorkflowStatus normalizes a workflow-level state onto the analysis
// status set through the same map.
func MapWorkflowStatus(native string) models.Status {
	return models.Status(MapTaskStatus(native))
}

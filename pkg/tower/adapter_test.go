//go:build unit || !integration

package tower

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/suite"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/logger"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

type fakeClient struct {
	workflow  *WorkflowResponse
	tasks     *TasksResponse
	err       error
	cancelled []string
}

func (f *fakeClient) GetWorkflow(context.Context, string) (*WorkflowResponse, error) {
	return f.workflow, f.err
}

func (f *fakeClient) GetTasks(context.Context, string) (*TasksResponse, error) {
	return f.tasks, f.err
}

func (f *fakeClient) CancelWorkflow(_ context.Context, workflowID string) error {
	f.cancelled = append(f.cancelled, workflowID)
	return f.err
}

type AdapterSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.Store
	client  *fakeClient
	adapter *Adapter
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.ctx = context.Background()

	st, err := store.New(sqlite.Open(":memory:"), store.WithMaxOpenConns(1))
	s.Require().NoError(err)
	s.store = st
	s.client = &fakeClient{}
	s.adapter = NewAdapter(s.client, st)
}

func (s *AdapterSuite) newAnalysis(workflowID string) *models.Analysis {
	analysis, err := s.store.AddPendingAnalysis(s.ctx, models.CreateAnalysisRequest{
		CaseID:          "wisefox",
		WorkflowManager: models.WorkflowManagerTower,
		TowerWorkflowID: workflowID,
	})
	s.Require().NoError(err)
	return analysis
}

func (s *AdapterSuite) TestUpdateJobsUpsertsByNativeID() {
	analysis := s.newAnalysis("1abc")
	start := Time{Time: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)}
	s.client.tasks = &TasksResponse{Tasks: []TaskWrapper{
		{Task: Task{ID: 1, NativeID: "690994", Process: "FASTQC", Status: "SUCCEEDED", Start: &start, Duration: 600}},
		{Task: Task{ID: 2, NativeID: "690995", Process: "ALIGN", Status: "RUNNING", Duration: 59}},
	}}

	s.Require().NoError(s.adapter.UpdateJobs(s.ctx, analysis))

	jobs, err := s.store.GetJobs(s.ctx, analysis.ID, models.JobTypeAnalysis)
	s.Require().NoError(err)
	s.Require().Len(jobs, 2)
	s.Equal("FASTQC", jobs[0].Name)
	s.Equal(models.JobStatusCompleted, jobs[0].Status)
	s.Equal(10, jobs[0].Elapsed)
	s.Equal(0, jobs[1].Elapsed)

	// a second pass updates in place instead of duplicating
	s.client.tasks.Tasks[1].Task.Status = "SUCCEEDED"
	s.Require().NoError(s.adapter.UpdateJobs(s.ctx, analysis))
	jobs, err = s.store.GetJobs(s.ctx, analysis.ID, models.JobTypeAnalysis)
	s.Require().NoError(err)
	s.Require().Len(jobs, 2)
	s.Equal(models.JobStatusCompleted, jobs[1].Status)
}

func (s *AdapterSuite) TestUpdateJobsSkipsTasksWithoutNativeID() {
	analysis := s.newAnalysis("1abc")
	s.client.tasks = &TasksResponse{Tasks: []TaskWrapper{
		{Task: Task{ID: 1, NativeID: "", Process: "FASTQC", Status: "NEW"}},
	}}

	s.Require().NoError(s.adapter.UpdateJobs(s.ctx, analysis))
	jobs, err := s.store.GetJobs(s.ctx, analysis.ID, models.JobTypeAnalysis)
	s.Require().NoError(err)
	s.Empty(jobs)
}

func (s *AdapterSuite) TestGetStatusMapsWorkflowState() {
	analysis := s.newAnalysis("1abc")

	for native, want := range map[string]models.Status{
		"SUBMITTED": models.StatusPending,
		"RUNNING":   models.StatusRunning,
		"SUCCEEDED": models.StatusCompleted,
		"FAILED":    models.StatusFailed,
		"UNKNOWN":   models.StatusFailed,
		"CANCELLED": models.StatusCancelled,
	} {
		s.client.workflow = &WorkflowResponse{Workflow: Workflow{Status: native}}
		status, err := s.adapter.GetStatus(s.ctx, analysis)
		s.Require().NoError(err)
		s.Equal(want, status, native)
	}
}

func (s *AdapterSuite) TestGetProgress() {
	analysis := s.newAnalysis("1abc")

	// running workflow: two of three processes done
	s.client.workflow = &WorkflowResponse{
		Workflow: Workflow{Status: "RUNNING"},
		Progress: Progress{ProcessesProgress: []ProcessProgress{
			{Process: "FASTQC", Succeeded: 2},
			{Process: "ALIGN", Cached: 1},
			{Process: "CALL", Running: 1},
		}},
	}
	progress, err := s.adapter.GetProgress(s.ctx, analysis)
	s.Require().NoError(err)
	s.InDelta(2.0/3.0, progress, 1e-9)

	// completed workflow is 1.0 regardless of aggregates
	s.client.workflow.Workflow.Status = "SUCCEEDED"
	progress, err = s.adapter.GetProgress(s.ctx, analysis)
	s.Require().NoError(err)
	s.Equal(1.0, progress)

	// pending workflow is 0.0
	s.client.workflow.Workflow.Status = "SUBMITTED"
	progress, err = s.adapter.GetProgress(s.ctx, analysis)
	s.Require().NoError(err)
	s.Equal(0.0, progress)

	// zero processes is 0.0
	s.client.workflow = &WorkflowResponse{Workflow: Workflow{Status: "RUNNING"}}
	progress, err = s.adapter.GetProgress(s.ctx, analysis)
	s.Require().NoError(err)
	s.Equal(0.0, progress)
}

func (s *AdapterSuite) TestCancelJobsCancelsWholeWorkflow() {
	analysis := s.newAnalysis("1abc")

	s.Require().NoError(s.adapter.CancelJobs(s.ctx, analysis))
	s.Equal([]string{"1abc"}, s.client.cancelled)
}

func (s *AdapterSuite) TestMissingWorkflowHandleIsInvalidInput() {
	analysis, err := s.store.AddPendingAnalysis(s.ctx, models.CreateAnalysisRequest{
		CaseID:          "nomaster",
		WorkflowManager: models.WorkflowManagerTower,
	})
	s.Require().NoError(err)

	_, err = s.adapter.GetStatus(s.ctx, analysis)
	s.True(tberrors.IsInvalidInput(err))
}

//go:build unit || !integration

package slurm

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/suite"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/logger"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

type fakeClient struct {
	jobs      map[int]models.JobInfo
	cancelled []int
}

func (f *fakeClient) GetJob(_ context.Context, slurmID int) (models.JobInfo, error) {
	info, ok := f.jobs[slurmID]
	if !ok {
		return models.JobInfo{}, tberrors.NewBackend(nil, "job %d is unknown to the scheduler", slurmID)
	}
	return info, nil
}

func (f *fakeClient) CancelJob(_ context.Context, slurmID int) error {
	f.cancelled = append(f.cancelled, slurmID)
	return nil
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
	s.client = &fakeClient{jobs: map[int]models.JobInfo{}}
	s.adapter = NewAdapter(s.client, st)
}

func (s *AdapterSuite) newAnalysis() *models.Analysis {
	analysis, err := s.store.AddPendingAnalysis(s.ctx, models.CreateAnalysisRequest{
		CaseID:     "wisefox",
		ConfigPath: "/cases/wisefox/analysis.yaml",
	})
	s.Require().NoError(err)
	return analysis
}

func (s *AdapterSuite) addJob(analysisID uint, slurmID int, jobType models.JobType) *models.Job {
	job, err := s.store.AddJob(s.ctx, analysisID, models.CreateJobRequest{
		Name:    "align",
		SlurmID: slurmID,
		JobType: jobType,
	})
	s.Require().NoError(err)
	return job
}

func (s *AdapterSuite) TestUpdateJobsRefreshesRows() {
	analysis := s.newAnalysis()
	s.addJob(analysis.ID, 101, models.JobTypeAnalysis)
	s.client.jobs[101] = models.JobInfo{SlurmID: 101, Name: "align", Status: models.JobStatusCompleted, ElapsedMinutes: 90}

	s.Require().NoError(s.adapter.UpdateJobs(s.ctx, analysis))

	jobs, err := s.store.GetJobs(s.ctx, analysis.ID, models.JobTypeAnalysis)
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal(models.JobStatusCompleted, jobs[0].Status)
	s.Equal(90, jobs[0].Elapsed)
}

func (s *AdapterSuite) TestUpdateJobsPropagatesBackendError() {
	analysis := s.newAnalysis()
	s.addJob(analysis.ID, 101, models.JobTypeAnalysis)

	err := s.adapter.UpdateJobs(s.ctx, analysis)
	s.True(tberrors.IsBackend(err))
}

func (s *AdapterSuite) TestGetStatusDerivesFromJobs() {
	analysis := s.newAnalysis()
	job1 := s.addJob(analysis.ID, 101, models.JobTypeAnalysis)
	job2 := s.addJob(analysis.ID, 102, models.JobTypeAnalysis)
	s.Require().NoError(s.store.UpdateJob(s.ctx, job1.ID, models.JobInfo{Name: "align", Status: models.JobStatusCompleted}))
	s.Require().NoError(s.store.UpdateJob(s.ctx, job2.ID, models.JobInfo{Name: "call", Status: models.JobStatusRunning}))

	status, err := s.adapter.GetStatus(s.ctx, analysis)
	s.Require().NoError(err)
	s.Equal(models.StatusRunning, status)
}

func (s *AdapterSuite) TestGetStatusWithoutJobsIsBackendError() {
	analysis := s.newAnalysis()

	_, err := s.adapter.GetStatus(s.ctx, analysis)
	s.True(tberrors.IsBackend(err))
}

func (s *AdapterSuite) TestCancelJobsSkipsFinishedIncludesUploads() {
	analysis := s.newAnalysis()
	done := s.addJob(analysis.ID, 101, models.JobTypeAnalysis)
	s.addJob(analysis.ID, 102, models.JobTypeAnalysis)
	s.addJob(analysis.ID, 103, models.JobTypeUpload)
	s.Require().NoError(s.store.UpdateJob(s.ctx, done.ID, models.JobInfo{Name: "align", Status: models.JobStatusCompleted}))

	s.Require().NoError(s.adapter.CancelJobs(s.ctx, analysis))
	s.ElementsMatch([]int{102, 103}, s.client.cancelled)
}

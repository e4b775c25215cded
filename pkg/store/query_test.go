//go:build unit || !integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/suite"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/logger"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

type QuerySuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	clock *clock.Mock
}

func TestQuerySuite(t *testing.T) {
	suite.Run(t, new(QuerySuite))
}

func (s *QuerySuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.ctx = context.Background()
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	store, err := New(sqlite.Open(":memory:"), WithClock(s.clock), WithMaxOpenConns(1))
	s.Require().NoError(err)
	s.store = store
}

func (s *QuerySuite) seed(rows ...Analysis) {
	for i := range rows {
		if rows[i].StartedAt.IsZero() {
			rows[i].StartedAt = s.clock.Now().UTC().Add(time.Duration(i) * time.Minute)
		}
		if rows[i].Status == "" {
			rows[i].Status = string(models.StatusPending)
		}
		rows[i].IsVisible = true
		s.Require().NoError(s.store.DB.Create(&rows[i]).Error)
	}
}

func (s *QuerySuite) TestStatusFilter() {
	s.seed(
		Analysis{CaseID: "casea", Status: string(models.StatusCompleted)},
		Analysis{CaseID: "caseb", Status: string(models.StatusFailed)},
		Analysis{CaseID: "casec", Status: string(models.StatusRunning)},
	)

	got, total, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{
		Statuses: []models.Status{models.StatusCompleted, models.StatusFailed},
	})
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Len(got, 2)
}

func (s *QuerySuite) TestEmptyCommentMatchesNullAndEmpty() {
	s.seed(
		Analysis{CaseID: "casea", Comment: ""},
		Analysis{CaseID: "caseb", Comment: "checked"},
		Analysis{CaseID: "casec", Comment: "rerun"},
	)

	got, _, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{
		Comments: []string{""},
	})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("casea", got[0].CaseID)

	// empty value alongside real values is a union
	got, _, err = s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{
		Comments: []string{"", "checked"},
	})
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *QuerySuite) TestCommentFilterDoesNotLeakIntoOtherFilters() {
	s.seed(
		Analysis{CaseID: "casea", Comment: "", Status: string(models.StatusFailed)},
		Analysis{CaseID: "caseb", Comment: "", Status: string(models.StatusCompleted)},
	)

	got, _, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{
		Comments: []string{""},
		Statuses: []models.Status{models.StatusFailed},
	})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("casea", got[0].CaseID)
}

func (s *QuerySuite) TestSearchSpansCaseTicketAndComment() {
	s.seed(
		Analysis{CaseID: "wisefox", TicketID: "123456"},
		Analysis{CaseID: "caseb", TicketID: "999999"},
		Analysis{CaseID: "casec", TicketID: "", Comment: "wisefox rerun"},
	)

	got, _, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{Search: "wisefox"})
	s.Require().NoError(err)
	s.Len(got, 2)

	got, _, err = s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{Search: "1234"})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("wisefox", got[0].CaseID)
}

func (s *QuerySuite) TestPaginationDefaultsAndClamp() {
	rows := make([]Analysis, 0, 120)
	for i := 0; i < 120; i++ {
		rows = append(rows, Analysis{CaseID: fmt.Sprintf("case%03d", i)})
	}
	s.seed(rows...)

	got, total, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{})
	s.Require().NoError(err)
	s.Equal(int64(120), total)
	s.Len(got, models.DefaultPageSize)

	got, total, err = s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{Page: 2})
	s.Require().NoError(err)
	s.Equal(int64(120), total)
	s.Len(got, 20)

	req := &models.AnalysesRequest{PageSize: 9000}
	_, _, err = s.store.GetPaginatedAnalyses(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(models.MaxPageSize, req.PageSize)
}

func (s *QuerySuite) TestSortWhitelist() {
	_, _, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{SortField: "comment; drop table analysis"})
	s.True(tberrors.IsInvalidInput(err))

	_, _, err = s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{SortOrder: "sideways"})
	s.True(tberrors.IsInvalidInput(err))
}

func (s *QuerySuite) TestSortOrderApplied() {
	s.seed(
		Analysis{CaseID: "caseb"},
		Analysis{CaseID: "casea"},
		Analysis{CaseID: "casec"},
	)

	got, _, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{
		SortField: "case_id",
		SortOrder: "asc",
	})
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal("casea", got[0].CaseID)
	s.Equal("casec", got[2].CaseID)
}

func (s *QuerySuite) TestVisibilityFilter() {
	s.seed(Analysis{CaseID: "casea"})
	hidden := Analysis{
		CaseID:    "caseb",
		StartedAt: s.clock.Now().UTC().Add(time.Hour),
		Status:    string(models.StatusPending),
		IsVisible: false,
	}
	s.Require().NoError(s.store.DB.Create(&hidden).Error)

	visible := true
	got, _, err := s.store.GetPaginatedAnalyses(s.ctx, &models.AnalysesRequest{IsVisible: &visible})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("casea", got[0].CaseID)
}

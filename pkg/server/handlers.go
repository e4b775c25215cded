package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

func analysisID(req *http.Request) (uint, error) {
	raw := mux.Vars(req)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, tberrors.NewInvalidInput("analysis id must be an integer, got %q", raw)
	}
	return uint(id), nil
}

type analysesResponse struct {
	Analyses   []*models.Analysis `json:"analyses"`
	TotalCount int64              `json:"total_count"`
}

func (s *Server) getAnalyses(ctx context.Context, req *http.Request) (*analysesResponse, error) {
	filter, err := parseAnalysesRequest(req.URL.Query())
	if err != nil {
		return nil, err
	}
	analyses, total, err := s.analyses.GetAnalyses(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &analysesResponse{Analyses: analyses, TotalCount: total}, nil
}

func (s *Server) getAnalysis(ctx context.Context, req *http.Request) (*models.Analysis, error) {
	id, err := analysisID(req)
	if err != nil {
		return nil, err
	}
	return s.analyses.GetAnalysis(ctx, id)
}

func (s *Server) addPendingAnalysis(ctx context.Context, req *http.Request) (*models.Analysis, error) {
	body, err := getRequestBody[models.CreateAnalysisRequest](req)
	if err != nil {
		return nil, err
	}
	return s.analyses.AddPendingAnalysis(ctx, *body)
}

func (s *Server) updateAnalysis(ctx context.Context, req *http.Request) (*models.Analysis, error) {
	id, err := analysisID(req)
	if err != nil {
		return nil, err
	}
	patch, err := getRequestBody[models.UpdateAnalysisRequest](req)
	if err != nil {
		return nil, err
	}
	return s.analyses.UpdateAnalysis(ctx, id, patch, UserFromContext(ctx))
}

type bulkUpdateRequest struct {
	Analyses []models.UpdateAnalysisRequest `json:"analyses"`
}

func (s *Server) updateAnalyses(ctx context.Context, req *http.Request) (*analysesResponse, error) {
	body, err := getRequestBody[bulkUpdateRequest](req)
	if err != nil {
		return nil, err
	}
	if len(body.Analyses) == 0 {
		return nil, tberrors.NewInvalidInput("analyses must not be empty")
	}
	updated, err := s.analyses.UpdateAnalyses(ctx, body.Analyses, UserFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &analysesResponse{Analyses: updated, TotalCount: int64(len(updated))}, nil
}

func (s *Server) deleteAnalysis(res http.ResponseWriter, req *http.Request) error {
	id, err := analysisID(req)
	if err != nil {
		return err
	}
	force := false
	if raw := req.URL.Query().Get("force"); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			return tberrors.NewInvalidInput("force must be a boolean, got %q", raw)
		}
	}
	if err := s.analyses.DeleteAnalysis(req.Context(), id, force); err != nil {
		return err
	}
	res.WriteHeader(http.StatusNoContent)
	return nil
}

type cancelResponse struct {
	Success bool `json:"success"`
}

func (s *Server) cancelAnalysis(ctx context.Context, req *http.Request) (*cancelResponse, error) {
	id, err := analysisID(req)
	if err != nil {
		return nil, err
	}
	if err := s.analyses.CancelAnalysis(ctx, id, UserFromContext(ctx)); err != nil {
		return nil, err
	}
	return &cancelResponse{Success: true}, nil
}

func (s *Server) addJob(ctx context.Context, req *http.Request) (*models.Job, error) {
	id, err := analysisID(req)
	if err != nil {
		return nil, err
	}
	body, err := getRequestBody[models.CreateJobRequest](req)
	if err != nil {
		return nil, err
	}
	return s.analyses.AddJob(ctx, id, *body)
}

type failedJobsResponse struct {
	Jobs []models.FailedJobStat `json:"jobs"`
}

func (s *Server) getFailedJobsStats(ctx context.Context, req *http.Request) (*failedJobsResponse, error) {
	daysBack, err := intParam(req.URL.Query(), "days_back")
	if err != nil {
		return nil, err
	}
	stats, err := s.analyses.GetFailedJobsStats(ctx, daysBack)
	if err != nil {
		return nil, err
	}
	return &failedJobsResponse{Jobs: stats}, nil
}

type summariesResponse struct {
	Summaries []models.Summary `json:"summaries"`
}

func (s *Server) getSummaries(ctx context.Context, req *http.Request) (*summariesResponse, error) {
	orderIDs, err := parseOrderIDs(req.URL.Query().Get("orderIds"))
	if err != nil {
		return nil, err
	}
	summaries, err := s.analyses.GetSummaries(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	return &summariesResponse{Summaries: summaries}, nil
}

func (s *Server) getInfo(ctx context.Context, req *http.Request) (*models.Info, error) {
	return s.analyses.GetInfo(ctx)
}

func (s *Server) getMe(ctx context.Context, req *http.Request) (*models.User, error) {
	return UserFromContext(ctx), nil
}

type usersResponse struct {
	Users []*models.User `json:"users"`
}

func (s *Server) getUsers(ctx context.Context, req *http.Request) (*usersResponse, error) {
	query := req.URL.Query()
	includeArchived := false
	if raw := query.Get("include_archived"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, tberrors.NewInvalidInput("include_archived must be a boolean, got %q", raw)
		}
		includeArchived = parsed
	}
	users, err := s.users.GetUsers(ctx, query.Get("name"), query.Get("email"), includeArchived)
	if err != nil {
		return nil, err
	}
	return &usersResponse{Users: users}, nil
}

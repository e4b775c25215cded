//go:build unit || !integration

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/suite"
	"golang.org/x/oauth2"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/crypt"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/logger"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/service"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/slurm"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/store"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tower"
)

const testSecret = "test-jwt-secret"

// base64 of 32 zero bytes
const testCryptKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

type fakeSlurmClient struct{}

func (fakeSlurmClient) GetJob(context.Context, int) (models.JobInfo, error) {
	return models.JobInfo{}, tberrors.NewBackend(nil, "scheduler not reachable in tests")
}

func (fakeSlurmClient) CancelJob(context.Context, int) error { return nil }

type fakeTowerClient struct{}

func (fakeTowerClient) GetWorkflow(context.Context, string) (*tower.WorkflowResponse, error) {
	return &tower.WorkflowResponse{Workflow: tower.Workflow{Status: "SUBMITTED"}}, nil
}

func (fakeTowerClient) GetTasks(context.Context, string) (*tower.TasksResponse, error) {
	return &tower.TasksResponse{}, nil
}

func (fakeTowerClient) CancelWorkflow(context.Context, string) error { return nil }

type fakeExchanger struct {
	email string
	err   error
}

func (f *fakeExchanger) Exchange(context.Context, string) (*oauth2.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	idToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": f.email,
		"sub":   "google-subject-1",
	})
	signed, err := idToken.SignedString([]byte("provider-secret"))
	if err != nil {
		return nil, err
	}
	token := &oauth2.Token{AccessToken: "provider-access", RefreshToken: "provider-refresh"}
	return token.WithExtra(map[string]interface{}{"id_token": signed}), nil
}

type ServerSuite struct {
	suite.Suite
	store      *store.Store
	clock      *clock.Mock
	users      *service.UserService
	server     *Server
	httpServer *httptest.Server
	exchanger  *fakeExchanger
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.clock = clock.NewMock()
	// token expiry is checked against the wall clock, so the mock starts at
	// real now instead of a fixed instant
	s.clock.Set(time.Now().UTC().Truncate(time.Second))

	st, err := store.New(sqlite.Open(":memory:"), store.WithClock(s.clock), store.WithMaxOpenConns(1))
	s.Require().NoError(err)
	s.store = st

	slurmClient := fakeSlurmClient{}
	jobs := service.NewJobService(service.JobServiceParams{
		Store:        st,
		SlurmClient:  slurmClient,
		SlurmAdapter: slurm.NewAdapter(slurmClient, st),
		TowerAdapter: tower.NewAdapter(fakeTowerClient{}, st),
	})
	analyses := service.NewAnalysisService(service.AnalysisServiceParams{Store: st, Jobs: jobs, Clock: s.clock})

	cipher, err := crypt.New(testCryptKey)
	s.Require().NoError(err)
	s.users = service.NewUserService(st, cipher)
	s.exchanger = &fakeExchanger{email: "op@example.com"}

	server, err := NewServer(Params{
		Options:   Options{Host: "127.0.0.1", Port: 8080, JWTSecret: testSecret},
		Analyses:  analyses,
		Users:     s.users,
		Exchanger: s.exchanger,
		Clock:     s.clock,
	})
	s.Require().NoError(err)
	s.server = server

	s.httpServer = httptest.NewServer(server.Router())
	s.T().Cleanup(s.httpServer.Close)
}

func (s *ServerSuite) request(method, path string, body any, token string) (*http.Response, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.httpServer.URL+"/api/v1"+path, reader)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	s.Require().NoError(err)
	return res, raw
}

func (s *ServerSuite) token(email string) string {
	token, err := generateJWT(testSecret, email, s.clock.Now().UTC())
	s.Require().NoError(err)
	return token
}

func (s *ServerSuite) addUser(email string) *models.User {
	user, err := s.users.AddUser(context.Background(), "Op Erator", email, email[:2])
	s.Require().NoError(err)
	return user
}

func (s *ServerSuite) createAnalysis(caseID string) *models.Analysis {
	res, raw := s.request(http.MethodPost, "/add-pending-analysis", map[string]any{
		"case_id":          caseID,
		"out_dir":          "/o",
		"priority":         "normal",
		"type":             "wgs",
		"workflow":         "wgs",
		"workflow_manager": "slurm",
		"config_path":      "/c",
	}, "")
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(raw))
	var analysis models.Analysis
	s.Require().NoError(json.Unmarshal(raw, &analysis))
	return &analysis
}

func (s *ServerSuite) TestCreateThenFetch() {
	created := s.createAnalysis("C1")
	s.Equal(models.StatusPending, created.Status)

	res, raw := s.request(http.MethodGet, fmt.Sprintf("/analyses/%d", created.ID), nil, "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var fetched models.Analysis
	s.Require().NoError(json.Unmarshal(raw, &fetched))
	s.Equal(created.ID, fetched.ID)
	s.Equal("C1", fetched.CaseID)
	s.Equal(models.StatusPending, fetched.Status)
}

func (s *ServerSuite) TestRejectMissingConfigPath() {
	res, raw := s.request(http.MethodPost, "/add-pending-analysis", map[string]any{
		"case_id":          "C1",
		"workflow_manager": "slurm",
		"config_path":      nil,
	}, "")
	s.Equal(http.StatusBadRequest, res.StatusCode)
	s.Contains(string(raw), "error")
}

func (s *ServerSuite) TestGetMissingAnalysisIs404() {
	res, _ := s.request(http.MethodGet, "/analyses/4242", nil, "")
	s.Equal(http.StatusNotFound, res.StatusCode)
}

func (s *ServerSuite) TestDuplicateCreateIs409() {
	s.createAnalysis("C1")
	res, _ := s.request(http.MethodPost, "/add-pending-analysis", map[string]any{
		"case_id":          "C1",
		"workflow_manager": "slurm",
		"config_path":      "/c",
	}, "")
	s.Equal(http.StatusConflict, res.StatusCode)
}

func (s *ServerSuite) TestListAnalysesWithFilters() {
	s.createAnalysis("wisefox")
	s.clock.Add(time.Minute)
	s.createAnalysis("braveowl")

	res, raw := s.request(http.MethodGet, "/analyses?status[]=pending&case_id=wise", nil, "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var body analysesResponse
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Equal(int64(1), body.TotalCount)
	s.Require().Len(body.Analyses, 1)
	s.Equal("wisefox", body.Analyses[0].CaseID)
}

func (s *ServerSuite) TestEmptyCommentFilter() {
	first := s.createAnalysis("wisefox")
	s.clock.Add(time.Minute)
	second := s.createAnalysis("braveowl")
	comment := "checked"
	user := s.addUser("op@example.com")
	_, err := s.store.UpdateAnalysis(context.Background(), second.ID,
		&models.UpdateAnalysisRequest{Comment: &comment}, user)
	s.Require().NoError(err)

	res, raw := s.request(http.MethodGet, "/analyses?comment[]=", nil, "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var body analysesResponse
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Require().Len(body.Analyses, 1)
	s.Equal(first.ID, body.Analyses[0].ID)
}

func (s *ServerSuite) TestUnknownStatusFilterIs400() {
	res, _ := s.request(http.MethodGet, "/analyses?status[]=sideways", nil, "")
	s.Equal(http.StatusBadRequest, res.StatusCode)
}

func (s *ServerSuite) TestUpdateAnalysisRequiresAuth() {
	analysis := s.createAnalysis("wisefox")
	res, _ := s.request(http.MethodPut, fmt.Sprintf("/analyses/%d", analysis.ID),
		map[string]any{"comment": "checked"}, "")
	s.Equal(http.StatusForbidden, res.StatusCode)
}

func (s *ServerSuite) TestUpdateAnalysisDeliveredBy() {
	user := s.addUser("op@example.com")
	analysis := s.createAnalysis("wisefox")

	res, raw := s.request(http.MethodPut, fmt.Sprintf("/analyses/%d", analysis.ID),
		map[string]any{"is_delivered": true, "comment": "delivered to customer"},
		s.token(user.Email))
	s.Require().Equal(http.StatusOK, res.StatusCode, string(raw))

	var updated models.Analysis
	s.Require().NoError(json.Unmarshal(raw, &updated))
	s.Require().NotNil(updated.Delivery)
	s.Equal(user.ID, updated.Delivery.DeliveredBy.ID)
	s.Equal("delivered to customer", updated.Comment)
}

func (s *ServerSuite) TestBulkUpdateFailureIs400() {
	user := s.addUser("op@example.com")
	first := s.createAnalysis("wisefox")

	res, raw := s.request(http.MethodPatch, "/analyses", map[string]any{
		"analyses": []map[string]any{
			{"id": first.ID, "comment": "checked"},
			{"id": first.ID, "status": "sideways"},
		},
	}, s.token(user.Email))
	s.Equal(http.StatusBadRequest, res.StatusCode)
	s.Contains(string(raw), "error")

	// the first item was persisted before the failure
	got, err := s.store.GetAnalysisWithID(context.Background(), first.ID)
	s.Require().NoError(err)
	s.Equal("checked", got.Comment)
}

func (s *ServerSuite) TestAddJobOnBothPaths() {
	analysis := s.createAnalysis("wisefox")

	for i, path := range []string{
		fmt.Sprintf("/analyses/%d/jobs", analysis.ID),
		fmt.Sprintf("/analysis/%d/jobs", analysis.ID),
	} {
		res, raw := s.request(http.MethodPost, path, map[string]any{
			"name":     "align",
			"slurm_id": 100 + i,
		}, "")
		s.Require().Equal(http.StatusCreated, res.StatusCode, string(raw))
		var job models.Job
		s.Require().NoError(json.Unmarshal(raw, &job))
		s.Equal("align", job.Name)
	}
}

func (s *ServerSuite) TestCancelAnalysis() {
	user := s.addUser("op@example.com")
	analysis := s.createAnalysis("wisefox")

	res, _ := s.request(http.MethodPost, fmt.Sprintf("/analyses/%d/cancel", analysis.ID),
		nil, s.token(user.Email))
	s.Require().Equal(http.StatusOK, res.StatusCode)

	got, err := s.store.GetAnalysisWithID(context.Background(), analysis.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, got.Status)
}

func (s *ServerSuite) TestDeleteOngoingAnalysisNeedsForce() {
	user := s.addUser("op@example.com")
	analysis := s.createAnalysis("wisefox")
	token := s.token(user.Email)

	res, _ := s.request(http.MethodDelete, fmt.Sprintf("/analyses/%d", analysis.ID), nil, token)
	s.Equal(http.StatusConflict, res.StatusCode)

	res, _ = s.request(http.MethodDelete, fmt.Sprintf("/analyses/%d?force=true", analysis.ID), nil, token)
	s.Equal(http.StatusNoContent, res.StatusCode)
}

func (s *ServerSuite) TestSummary() {
	analysis := s.createAnalysisWithOrder("wisefox", 9)
	s.Require().NoError(s.store.UpdateAnalysisStatus(context.Background(), analysis.ID, models.StatusCompleted))

	res, raw := s.request(http.MethodGet, "/summary?orderIds=9,404", nil, "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var body summariesResponse
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Require().Len(body.Summaries, 2)
	s.Equal(1, body.Summaries[0].Total)
	s.Equal(1, body.Summaries[0].Delivered)
	s.Equal(0, body.Summaries[1].Total)
}

func (s *ServerSuite) createAnalysisWithOrder(caseID string, orderID int) *models.Analysis {
	res, raw := s.request(http.MethodPost, "/add-pending-analysis", map[string]any{
		"case_id":          caseID,
		"order_id":         orderID,
		"workflow_manager": "slurm",
		"config_path":      "/c",
	}, "")
	s.Require().Equal(http.StatusCreated, res.StatusCode, string(raw))
	var analysis models.Analysis
	s.Require().NoError(json.Unmarshal(raw, &analysis))
	return &analysis
}

func (s *ServerSuite) TestAggregateJobsZeroWindow() {
	res, raw := s.request(http.MethodGet, "/aggregate/jobs?days_back=0", nil, "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var body failedJobsResponse
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Empty(body.Jobs)
}

func (s *ServerSuite) TestLoginFlowAndMe() {
	s.addUser("op@example.com")

	res, raw := s.request(http.MethodPost, "/auth", map[string]any{"code": "authcode"}, "")
	s.Require().Equal(http.StatusOK, res.StatusCode, string(raw))
	var auth authResponse
	s.Require().NoError(json.Unmarshal(raw, &auth))
	s.NotEmpty(auth.AccessToken)

	res, raw = s.request(http.MethodGet, "/me", nil, auth.AccessToken)
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var me models.User
	s.Require().NoError(json.Unmarshal(raw, &me))
	s.Equal("op@example.com", me.Email)
	s.NotContains(string(raw), "refresh_token")

	// the provider refresh token was stored encrypted
	stored, err := s.store.GetUserByEmail(context.Background(), "op@example.com", false)
	s.Require().NoError(err)
	s.NotEmpty(stored.RefreshToken)
	s.NotEqual("provider-refresh", stored.RefreshToken)
	decrypted, err := s.users.GetRefreshToken(context.Background(), stored)
	s.Require().NoError(err)
	s.Equal("provider-refresh", decrypted)
}

func (s *ServerSuite) TestLoginUnknownUserIsForbidden() {
	res, _ := s.request(http.MethodPost, "/auth", map[string]any{"code": "authcode"}, "")
	s.Equal(http.StatusForbidden, res.StatusCode)
}

func (s *ServerSuite) TestArchivedUserCannotAuthenticate() {
	user := s.addUser("op@example.com")
	s.Require().NoError(s.users.SetUserIsArchived(context.Background(), user.ID, true))

	res, _ := s.request(http.MethodGet, "/me", nil, s.token(user.Email))
	s.Equal(http.StatusForbidden, res.StatusCode)
}

func (s *ServerSuite) TestInfoIsOpen() {
	res, raw := s.request(http.MethodGet, "/info", nil, "")
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var info models.Info
	s.Require().NoError(json.Unmarshal(raw, &info))
	s.False(info.CreatedAt.IsZero())
}

func (s *ServerSuite) TestGetUsers() {
	user := s.addUser("op@example.com")
	s.addUser("second@example.com")

	res, raw := s.request(http.MethodGet, "/users?email=second", nil, s.token(user.Email))
	s.Require().Equal(http.StatusOK, res.StatusCode)
	var body usersResponse
	s.Require().NoError(json.Unmarshal(raw, &body))
	s.Require().Len(body.Users, 1)
	s.Equal("second@example.com", body.Users[0].Email)
}

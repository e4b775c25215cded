// Package server is the REST edge of the tracker. Handlers parse requests
// into typed records, call the services and map typed errors onto status
// codes; no domain logic lives here.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/service"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/system"
)

type Options struct {
	Host      string
	Port      int
	JWTSecret string
}

type Server struct {
	options   Options
	analyses  *service.AnalysisService
	users     *service.UserService
	exchanger CodeExchanger
	clock     clock.Clock
}

type Params struct {
	Options   Options
	Analyses  *service.AnalysisService
	Users     *service.UserService
	Exchanger CodeExchanger
	Clock     clock.Clock
}

func NewServer(params Params) (*Server, error) {
	if params.Options.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if params.Options.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if params.Options.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	return &Server{
		options:   params.Options,
		analyses:  params.Analyses,
		users:     params.Users,
		exchanger: params.Exchanger,
		clock:     c,
	}, nil
}

func (s *Server) URL() *url.URL {
	u, err := url.Parse(fmt.Sprintf("http://%s:%d/", s.options.Host, s.options.Port))
	if err != nil {
		panic(err)
	}
	return u
}

// Router wires every endpoint under /api/v1.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	subrouter.HandleFunc("/info", handleError(returnsJSON(http.StatusOK, s.getInfo))).Methods("GET")
	subrouter.HandleFunc("/me", handleError(s.requiresLogin(returnsJSON(http.StatusOK, s.getMe)))).Methods("GET")
	subrouter.HandleFunc("/auth", handleError(returnsJSON(http.StatusOK, s.login))).Methods("POST")
	subrouter.HandleFunc("/users", handleError(s.requiresLogin(returnsJSON(http.StatusOK, s.getUsers)))).Methods("GET")

	subrouter.HandleFunc("/analyses", handleError(returnsJSON(http.StatusOK, s.getAnalyses))).Methods("GET")
	subrouter.HandleFunc("/analyses", handleError(s.requiresLogin(returnsJSON(http.StatusOK, s.updateAnalyses)))).Methods("PATCH")
	subrouter.HandleFunc("/add-pending-analysis", handleError(returnsJSON(http.StatusCreated, s.addPendingAnalysis))).Methods("POST")

	analysisRouter := subrouter.PathPrefix("/analyses/{id:[0-9]+}").Subrouter()
	analysisRouter.HandleFunc("", handleError(returnsJSON(http.StatusOK, s.getAnalysis))).Methods("GET")
	analysisRouter.HandleFunc("", handleError(s.requiresLogin(returnsJSON(http.StatusOK, s.updateAnalysis)))).Methods("PUT")
	analysisRouter.HandleFunc("", handleError(s.requiresLogin(s.deleteAnalysis))).Methods("DELETE")
	analysisRouter.HandleFunc("/jobs", handleError(returnsJSON(http.StatusCreated, s.addJob))).Methods("POST")
	analysisRouter.HandleFunc("/cancel", handleError(s.requiresLogin(returnsJSON(http.StatusOK, s.cancelAnalysis)))).Methods("POST")

	// legacy singular path kept for older submitters
	subrouter.HandleFunc("/analysis/{id:[0-9]+}/jobs", handleError(returnsJSON(http.StatusCreated, s.addJob))).Methods("POST")

	subrouter.HandleFunc("/aggregate/jobs", handleError(returnsJSON(http.StatusOK, s.getFailedJobsStats))).Methods("GET")
	subrouter.HandleFunc("/summary", handleError(returnsJSON(http.StatusOK, s.getSummaries))).Methods("GET")

	return router
}

// ListenAndServe runs the server until the cleanup manager shuts it down.
func (s *Server) ListenAndServe(ctx context.Context, cm *system.CleanupManager) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		WriteTimeout:      time.Minute,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute * 10,
		Handler:           s.Router(),
	}
	cm.RegisterCallbackWithContext(srv.Shutdown)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Package statusapi serves the import status and Prometheus metrics over
// HTTP while an import runs.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/mailhistory/internal/importer"
	"github.com/nhle/mailhistory/internal/model"
)

// Source is the coordinator state the server reports.
type Source interface {
	Accounts() []model.AccountConfig
	Sessions() []importer.SessionSnapshot
	Importing() bool
	TotalMessageCount() int
	CurrentMessageCount() int
	StopAll()
}

// Status is the body of GET /api/v1/status.
type Status struct {
	Importing bool                       `json:"importing"`
	Current   int                        `json:"current"`
	Total     int                        `json:"total"`
	Sessions  []importer.SessionSnapshot `json:"sessions"`
}

type accountView struct {
	ID      string `json:"id"`
	Index   int    `json:"index"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Mailbox string `json:"mailbox"`
}

// Server is the status HTTP server.
type Server struct {
	addr   string
	src    Source
	logger *slog.Logger
	server *http.Server
}

// New creates a server listening on addr.
func New(addr string, src Source, logger *slog.Logger) *Server {
	return &Server{addr: addr, src: src, logger: logger}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", s.handleAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", s.handleSession).Methods(http.MethodGet)
	v1.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)

	return router
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status server shutdown", "error", err)
		}
	}()

	s.logger.Info("status server listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Status{
		Importing: s.src.Importing(),
		Current:   s.src.CurrentMessageCount(),
		Total:     s.src.TotalMessageCount(),
		Sessions:  s.src.Sessions(),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	accts := s.src.Accounts()
	out := make([]accountView, len(accts))
	for i, a := range accts {
		out[i] = accountView{
			ID: a.ID, Index: a.Index, Label: a.Label, Enabled: a.Enabled,
			Host: a.Host, Mailbox: a.Mailbox,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, snap := range s.src.Sessions() {
		if snap.AccountID == id {
			s.writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "no session for account "+id)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.src.StopAll()
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"stopping": s.src.Importing()})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("status request", "method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encoding status response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

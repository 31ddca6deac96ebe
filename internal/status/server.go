// Package status serves the live state of a supervised run over HTTP.
package status

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/twrap/internal/observe"
	"github.com/psantana5/twrap/internal/report"
	"github.com/psantana5/twrap/internal/wrapper"
	"github.com/psantana5/twrap/pkg/auth"
	"github.com/psantana5/twrap/pkg/logging"
	"github.com/psantana5/twrap/pkg/middleware"
)

// Sources are read on every request.
type Sources struct {
	ExecutionID string
	Job         string
	Supervisor  func() wrapper.Status
	Stats       *report.Stats
	Failures    *report.FailureLog
}

// Server exposes /healthz, /status, /failures and /metrics.
type Server struct {
	src     Sources
	log     *logging.Logger
	started time.Time
	router  *mux.Router
	server  *http.Server
	tls     *tls.Config
	ln      net.Listener
}

// Security restricts access to the server. Zero value leaves it open.
type Security struct {
	Token string
	TLS   *tls.Config
}

// NewServer builds the router. Call Start to listen.
func NewServer(addr string, src Sources, log *logging.Logger) *Server {
	s := &Server{src: src, log: log, started: time.Now(), router: mux.NewRouter()}
	s.router.Use(middleware.RequestLogger(log))
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	s.router.HandleFunc("/status", s.status).Methods("GET")
	s.router.HandleFunc("/failures", s.failures).Methods("GET")
	if src.Stats != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(src.Stats.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Secure applies sec. Call before Start.
func (s *Server) Secure(sec Security) error {
	if sec.Token != "" {
		v, err := auth.NewVerifier(sec.Token)
		if err != nil {
			return err
		}
		s.router.Use(middleware.BearerAuth(v, "/healthz"))
	}
	s.tls = sec.TLS
	return nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Status server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	s.log.Info("Status endpoint listening", map[string]interface{}{"addr": ln.Addr().String(), "tls": s.tls != nil})
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.server.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Snapshot is the /status document.
type Snapshot struct {
	ExecutionID string                `json:"execution_id"`
	Job         string                `json:"job"`
	Uptime      float64               `json:"uptime_seconds"`
	Supervisor  wrapper.Status        `json:"supervisor"`
	Process     *observe.ProcessStats `json:"process,omitempty"`
	Host        observe.HostLoad      `json:"host"`
	Timestamp   time.Time             `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := Snapshot{
		ExecutionID: s.src.ExecutionID,
		Job:         s.src.Job,
		Uptime:      time.Since(s.started).Seconds(),
		Host:        observe.SampleHost(r.Context()),
		Timestamp:   time.Now().UTC(),
	}
	if s.src.Supervisor != nil {
		snap.Supervisor = s.src.Supervisor()
	}
	if snap.Supervisor.PID > 0 && snap.Supervisor.State == wrapper.StateRunning {
		if st, err := observe.SampleProcess(r.Context(), snap.Supervisor.PID); err == nil {
			snap.Process = st
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) failures(w http.ResponseWriter, r *http.Request) {
	if s.src.Failures == nil {
		writeJSON(w, http.StatusOK, []report.FailureSample{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.src.Failures.Recent(limit))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

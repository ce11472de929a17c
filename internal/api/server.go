// Package api is the operator and observer HTTP surface of a room: health,
// readiness, scene status and control, the event log and its live stream,
// device presence and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AaronLay10/SentientRoom/internal/mqtt"
	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
	"github.com/AaronLay10/SentientRoom/internal/storage/postgres"
	"github.com/AaronLay10/SentientRoom/internal/version"
)

const shutdownTimeout = 10 * time.Second

// SceneRunner is the part of the orchestrator the API reads and stops.
type SceneRunner interface {
	Status() orchestrator.Status
	Active() bool
	Stop(ctx context.Context, reason string) error
}

// SceneStarter starts scenes from the room's scene library.
type SceneStarter interface {
	StartDefault(ctx context.Context) (*orchestrator.Session, error)
	StartNamed(ctx context.Context, name string) (*orchestrator.Session, error)
	Scenes() ([]string, error)
}

// DeviceLister reports device presence.
type DeviceLister interface {
	All() []mqtt.Device
	Summary() mqtt.Summary
}

// Connectivity reports whether the bus connection is up.
type Connectivity interface {
	IsConnected() bool
}

// EventStore is the persisted event log.
type EventStore interface {
	Query(limit int) ([]postgres.EventRow, error)
	QuerySession(sessionID string, limit int) ([]postgres.EventRow, error)
	Sessions(limit int) ([]postgres.SessionRow, error)
	Ping() error
}

// Deps wires a Server. Only Runner is required.
type Deps struct {
	RoomID   string
	RoomName string
	Runner   SceneRunner
	Starter  SceneStarter
	Devices  DeviceLister
	Bus      Connectivity
	Store    EventStore
	Auth     *Auth
	TLS      *TLSConfig
}

type Server struct {
	deps    Deps
	started time.Time
	handler http.Handler
}

func New(deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("api: scene runner is required")
	}
	if deps.Auth == nil {
		deps.Auth = &Auth{}
	}
	s := &Server{
		deps:    deps,
		started: time.Now(),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Auth.RequireAnyRole)

		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/sessions", s.handleSessions)
		r.Get("/ws/events", wsEventsHandler)
		r.Get("/devices", s.handleDevices)
		r.Get("/scenes", s.handleScenes)
		r.Post("/scene/start", s.handleSceneStart)
		r.Post("/scene/stop", s.handleSceneStop)
	})

	return r
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.deps.TLS.Enabled() {
			tlsCfg, err := s.deps.TLS.Load()
			if err != nil {
				errCh <- err
				return
			}
			srv.TLSConfig = tlsCfg
			log.Printf("API listening on %s (TLS)", srv.Addr)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Printf("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Room      string `json:"room,omitempty"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "orchestrator",
		Room:      s.deps.RoomID,
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// ReadinessResponse lists each dependency's state. Unconfigured
// dependencies are reported as "disabled" and do not block readiness.
type ReadinessResponse struct {
	Ready      bool              `json:"ready"`
	Components map[string]string `json:"components"`
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	resp := ReadinessResponse{Ready: true, Components: map[string]string{"orchestrator": "ok"}}

	switch {
	case s.deps.Bus == nil:
		resp.Components["mqtt"] = "disabled"
	case s.deps.Bus.IsConnected():
		resp.Components["mqtt"] = "ok"
	default:
		resp.Components["mqtt"] = "disconnected"
		resp.Ready = false
	}

	switch {
	case s.deps.Store == nil:
		resp.Components["postgres"] = "disabled"
	case s.deps.Store.Ping() == nil:
		resp.Components["postgres"] = "ok"
	default:
		resp.Components["postgres"] = "unreachable"
		resp.Ready = false
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("api: panic in %s %s: %v", r.Method, r.URL.Path, err)
				writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

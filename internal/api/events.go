package api

import (
	"net/http"
	"strconv"

	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/mqtt"
	"github.com/AaronLay10/SentientRoom/internal/storage/postgres"
)

const defaultEventLimit = 200

// handleEvents serves the event log, from Postgres when persistence is on
// and from the in-memory buffer otherwise.
//
// Query parameters: limit (default 200), session (one session's events).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	session := r.URL.Query().Get("session")

	if s.deps.Store != nil {
		var (
			rows []postgres.EventRow
			err  error
		)
		if session != "" {
			rows, err = s.deps.Store.QuerySession(session, limit)
		} else {
			rows, err = s.deps.Store.Query(limit)
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event store query failed: "+err.Error())
			return
		}
		if rows == nil {
			rows = []postgres.EventRow{}
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	writeJSON(w, http.StatusOK, bufferedEvents(session, limit))
}

// handleSessions lists past and running scene sessions from the event store.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event persistence is disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.deps.Store.Sessions(limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event store query failed: "+err.Error())
		return
	}
	if rows == nil {
		rows = []postgres.SessionRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// parseLimit reads the optional limit query parameter. On a bad value it
// writes the 400 itself and returns false.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultEventLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// bufferedEvents returns the newest limit buffered events, oldest first.
func bufferedEvents(session string, limit int) []events.Event {
	all := events.Snapshot()
	out := make([]events.Event, 0, len(all))
	for _, e := range all {
		if session != "" {
			if id, _ := e.Fields["session_id"].(string); id != session {
				continue
			}
		}
		out = append(out, e)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

type DevicesResponse struct {
	Summary mqtt.Summary  `json:"summary"`
	Devices []mqtt.Device `json:"devices"`
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Devices == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device registry not running")
		return
	}
	writeJSON(w, http.StatusOK, DevicesResponse{
		Summary: s.deps.Devices.Summary(),
		Devices: s.deps.Devices.All(),
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
	"github.com/AaronLay10/SentientRoom/internal/room"
)

const (
	maxBodyBytes      = 4 << 10
	stopWaitTimeout   = 10 * time.Second
	defaultStopReason = "operator"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Runner.Status())
}

func (s *Server) handleScenes(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Starter == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no scene library configured")
		return
	}
	names, err := s.deps.Starter.Scenes()
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenes": names})
}

// StartRequest names the scene file to start. Empty starts the default.
type StartRequest struct {
	Scene string `json:"scene"`
}

type StartResponse struct {
	SessionID string `json:"session_id"`
	SceneID   string `json:"scene_id"`
}

func (s *Server) handleSceneStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Starter == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no scene library configured")
		return
	}

	var req StartRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	var (
		sess *orchestrator.Session
		err  error
	)
	if req.Scene == "" {
		sess, err = s.deps.Starter.StartDefault(r.Context())
	} else {
		sess, err = s.deps.Starter.StartNamed(r.Context(), req.Scene)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, StartResponse{SessionID: sess.ID, SceneID: sess.Scene.ID})
	case errors.Is(err, orchestrator.ErrSessionActive):
		events.Emit("info", "scene.trigger_ignored", "a scene is already running", map[string]interface{}{
			"source": "api",
			"scene":  req.Scene,
		})
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, room.ErrInvalidSceneName), errors.Is(err, room.ErrNoDefaultScene):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidScene):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidScene, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

type StopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSceneStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = defaultStopReason
	}

	ctx, cancel := context.WithTimeout(r.Context(), stopWaitTimeout)
	defer cancel()

	err := s.deps.Runner.Stop(ctx, req.Reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.deps.Runner.Status())
	case errors.Is(err, orchestrator.ErrNoSession):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeUnavailable, "stop requested; teardown still running")
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON")
	return false
}

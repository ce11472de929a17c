// Package orchestrator runs scenes: a state machine whose states fire
// device, audio and video actions on entry, exit and along a timeline, and
// leave through whichever of their transitions becomes true first.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/media"
)

var (
	ErrSessionActive = errors.New("a scene session is already active")
	ErrNoSession     = errors.New("no active scene session")
)

const defaultCacheWarmTimeout = 5 * time.Second

// Status is what observers see of the current or most recent session.
type Status struct {
	SessionID           string  `json:"session_id,omitempty"`
	SceneID             string  `json:"scene_id,omitempty"`
	Phase               string  `json:"phase"`
	CurrentState        string  `json:"current_state,omitempty"`
	StatesCompleted     int     `json:"states_completed"`
	TotalStates         int     `json:"total_states"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
	StateElapsedSeconds float64 `json:"state_elapsed_seconds"`
	Outcome             string  `json:"outcome,omitempty"`
	StopReason          string  `json:"stop_reason,omitempty"`
}

// Options wires an Orchestrator.
type Options struct {
	// Executor runs actions. Defaults to a Dispatcher over Audio with no bus.
	Executor Executor
	// Audio receives the precache request at scene start.
	Audio media.AudioPlayer
	Clock Clock

	CacheWarmTimeout time.Duration
	// SkipExitOnStop leaves the current state's onExit actions unrun when
	// a session is stopped externally.
	SkipExitOnStop bool

	OnStart func(Status)
	OnEnd   func(Status)
}

// Session is a handle on one run of a scene.
type Session struct {
	ID    string
	Scene *Scene
	m     *Machine
}

func (s *Session) Done() <-chan struct{} { return s.m.Done() }

func (s *Session) Status() Status { return s.m.Status() }

// Orchestrator owns at most one active session at a time.
type Orchestrator struct {
	opts Options

	mu      sync.Mutex
	current *Machine
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.CacheWarmTimeout <= 0 {
		opts.CacheWarmTimeout = defaultCacheWarmTimeout
	}
	if opts.Executor == nil {
		opts.Executor = NewDispatcher(DispatcherConfig{Audio: opts.Audio})
	}
	return &Orchestrator{opts: opts}
}

// Load parses and validates a scene definition.
func (o *Orchestrator) Load(data []byte) (*Scene, error) {
	scene, err := LoadScene(data)
	if err != nil {
		return nil, err
	}
	emitLoaded(scene, "")
	return scene, nil
}

// LoadFile reads, parses and validates a scene file.
func (o *Orchestrator) LoadFile(path string) (*Scene, error) {
	scene, err := LoadSceneFile(path)
	if err != nil {
		return nil, err
	}
	emitLoaded(scene, path)
	return scene, nil
}

func emitLoaded(scene *Scene, path string) {
	fields := map[string]interface{}{
		"scene_id": scene.ID,
		"states":   len(scene.States),
	}
	if path != "" {
		fields["path"] = path
	}
	for _, err := range scene.ContractProblems() {
		events.Emit("warn", "contract.rejected", "scene contains a command that will be dropped", map[string]interface{}{
			"scene_id": scene.ID,
			"error":    err.Error(),
		})
	}
	events.Emit("info", "scene.loaded", "", fields)
}

// Start runs scene. Effect files are warmed first, bounded by
// CacheWarmTimeout; the initial state is entered whatever the outcome
// unless the session is stopped while warming up.
func (o *Orchestrator) Start(ctx context.Context, scene *Scene) (*Session, error) {
	if scene == nil {
		return nil, &ValidationError{Problems: []string{"no scene loaded"}}
	}

	o.mu.Lock()
	if o.current != nil && o.current.Phase() != PhaseIdle {
		o.mu.Unlock()
		return nil, ErrSessionActive
	}
	m := newMachine(machineConfig{
		SessionID:     uuid.NewString(),
		Scene:         scene,
		Clock:         o.opts.Clock,
		Executor:      o.opts.Executor,
		RunExitOnStop: !o.opts.SkipExitOnStop,
		OnEnd:         o.opts.OnEnd,
	})
	o.current = m
	o.mu.Unlock()

	o.precache(ctx, m, scene)

	session := &Session{ID: m.sessionID, Scene: scene, m: m}
	// Stopped while warming up: the session already ended, nothing to enter.
	if m.stopping() {
		return session, nil
	}
	if o.opts.OnStart != nil {
		o.opts.OnStart(m.Status())
	}
	m.start()

	return session, nil
}

func (o *Orchestrator) precache(ctx context.Context, m *Machine, scene *Scene) {
	files := scene.EffectFiles()
	if o.opts.Audio == nil || len(files) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.CacheWarmTimeout)
	defer cancel()

	started := o.opts.Clock.Now()
	result := make(chan error, 1)
	go func() {
		result <- o.opts.Audio.Preload(ctx, files)
	}()

	fields := map[string]interface{}{
		"session_id": m.sessionID,
		"scene_id":   scene.ID,
		"files":      len(files),
	}
	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	case <-m.Done():
		events.Emit("info", "media.precache", "session stopped during precache", fields)
		return
	}

	switch {
	case err != nil && ctx.Err() != nil:
		fields["timeout_ms"] = o.opts.CacheWarmTimeout.Milliseconds()
		events.Emit("warn", "media.precache_timeout", "starting without a warm cache", fields)
	case err != nil:
		fields["error"] = err.Error()
		events.Emit("warn", "media.precache", "precache failed", fields)
	default:
		fields["duration_ms"] = o.opts.Clock.Now().Sub(started).Milliseconds()
		events.Emit("info", "media.precache", "", fields)
	}
}

// Stop ends the active session and waits for teardown or ctx.
func (o *Orchestrator) Stop(ctx context.Context, reason string) error {
	done, err := o.RequestStop(reason)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestStop asks the active session to stop without waiting. It is the
// form to use from inside a collaborator callback.
func (o *Orchestrator) RequestStop(reason string) (<-chan struct{}, error) {
	m := o.machine()
	if m == nil || m.Phase() == PhaseIdle {
		return nil, ErrNoSession
	}
	return m.Stop(reason), nil
}

// Status reports the active session, or the final snapshot of the last one.
func (o *Orchestrator) Status() Status {
	m := o.machine()
	if m == nil {
		return Status{Phase: PhaseIdle.String()}
	}
	return m.Status()
}

// Active reports whether a session is running or stopping.
func (o *Orchestrator) Active() bool {
	m := o.machine()
	return m != nil && m.Phase() != PhaseIdle
}

// NotifyMediaEnded is called by the audio or video collaborator when file
// finishes playing.
func (o *Orchestrator) NotifyMediaEnded(kind media.Kind, file string) {
	m := o.machine()
	fields := map[string]interface{}{
		"kind": string(kind),
		"file": file,
	}
	if m != nil {
		fields["session_id"] = m.sessionID
	}
	events.Emit("debug", "media.ended", "", fields)
	if m != nil {
		m.NotifyMediaEnded(kind, file)
	}
}

// NotifyBusMessage is called for every inbound message on the room's
// subscriptions.
func (o *Orchestrator) NotifyBusMessage(topic, message string) {
	if m := o.machine(); m != nil {
		m.NotifyBusMessage(topic, message)
	}
}

func (o *Orchestrator) machine() *Machine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

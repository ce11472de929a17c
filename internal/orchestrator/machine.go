package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/media"
)

// Phase is the lifecycle phase of a session.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseStopping:
		return "stopping"
	}
	return "idle"
}

// Outcome records how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// maxImmediateHops bounds consecutive transitions that resolve without
// waiting on time or an external event.
const maxImmediateHops = 256

type machineEvent interface {
	visitID() uint64
}

type (
	startEvent    struct{}
	stopEvent     struct{ reason string }
	timelineFired struct {
		visit uint64
		index int
	}
	timeoutFired struct {
		visit uint64
		index int
	}
	mediaEnded struct {
		visit uint64
		kind  media.Kind
		file  string
	}
	busMessage struct {
		visit   uint64
		topic   string
		message string
	}
	immediateWinner struct {
		visit     uint64
		candidate Candidate
	}
)

func (startEvent) visitID() uint64        { return 0 }
func (stopEvent) visitID() uint64         { return 0 }
func (e timelineFired) visitID() uint64   { return e.visit }
func (e timeoutFired) visitID() uint64    { return e.visit }
func (e mediaEnded) visitID() uint64      { return e.visit }
func (e busMessage) visitID() uint64      { return e.visit }
func (e immediateWinner) visitID() uint64 { return e.visit }

type machineConfig struct {
	SessionID     string
	Scene         *Scene
	Clock         Clock
	Executor      Executor
	RunExitOnStop bool
	OnEnd         func(Status)
}

// Machine runs one session of a scene. Every mutation of the session
// happens inside drain: callers append to the mailbox and, when nobody is
// draining, drain it themselves. Calls made from inside the loop (a
// collaborator reacting to a dispatch) only enqueue.
type Machine struct {
	sessionID     string
	scene         *Scene
	clock         Clock
	exec          Executor
	runExitOnStop bool
	onEnd         func(Status)

	timeline *Timeline
	arbiter  *Arbiter

	phase atomic.Int32
	visit atomic.Uint64
	done  chan struct{}

	mu       sync.Mutex
	queue    []machineEvent
	draining bool

	// Owned by the drain loop.
	current   *State
	hops      int
	tlHandle  Handle
	arbHandle Handle

	statusMu sync.RWMutex
	status   machineStatus
}

type machineStatus struct {
	currentState    string
	statesCompleted int
	startedAt       time.Time
	enteredAt       time.Time
	endedAt         time.Time
	outcome         Outcome
	stopReason      string
}

func newMachine(cfg machineConfig) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	m := &Machine{
		sessionID:     cfg.SessionID,
		scene:         cfg.Scene,
		clock:         clock,
		exec:          cfg.Executor,
		runExitOnStop: cfg.RunExitOnStop,
		onEnd:         cfg.OnEnd,
		done:          make(chan struct{}),
	}
	m.timeline = newTimeline(clock, m.submit)
	m.arbiter = newArbiter(clock, m.submit)
	m.phase.Store(int32(PhaseActive))
	return m
}

// Phase returns the current phase. It is safe to call from any goroutine.
func (m *Machine) Phase() Phase {
	return Phase(m.phase.Load())
}

// Done is closed once the session has ended.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// start enters the initial state.
func (m *Machine) start() {
	m.submit(startEvent{})
}

// Stop requests teardown. It never blocks, may be called from any
// goroutine including collaborator callbacks, and is idempotent. The
// returned channel is closed once teardown has finished.
func (m *Machine) Stop(reason string) <-chan struct{} {
	if m.phase.CompareAndSwap(int32(PhaseActive), int32(PhaseStopping)) {
		m.submit(stopEvent{reason: reason})
	}
	return m.done
}

// NotifyMediaEnded reports that a collaborator finished playing file.
func (m *Machine) NotifyMediaEnded(kind media.Kind, file string) {
	if m.Phase() != PhaseActive {
		return
	}
	m.submit(mediaEnded{visit: m.visit.Load(), kind: kind, file: file})
}

// NotifyBusMessage reports an inbound bus message.
func (m *Machine) NotifyBusMessage(topic, message string) {
	if m.Phase() != PhaseActive {
		return
	}
	m.submit(busMessage{visit: m.visit.Load(), topic: topic, message: message})
}

func (m *Machine) submit(ev machineEvent) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	m.drain()
}

func (m *Machine) drain() {
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.draining = false
			m.mu.Unlock()
			panic(r)
		}
	}()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.handle(ev)
	}
}

func (m *Machine) handle(ev machineEvent) {
	switch e := ev.(type) {
	case startEvent:
		m.handleStart()
	case stopEvent:
		m.handleStop(e.reason)
	case timelineFired:
		m.handleTimeline(e)
	default:
		candidates := m.candidates(ev)
		if len(candidates) == 0 {
			return
		}
		candidates = append(candidates, m.coalesce(ev.visitID())...)
		if winner, ok := Pick(candidates); ok {
			m.fire(winner)
		}
	}
}

func (m *Machine) stopping() bool {
	return m.Phase() != PhaseActive
}

// live reports whether visit is the current, armed visit of an active session.
func (m *Machine) live(visit uint64) bool {
	return !m.stopping() && m.current != nil && visit == m.visit.Load() && m.arbiter.Armed(visit)
}

func (m *Machine) candidates(ev machineEvent) []Candidate {
	if !m.live(ev.visitID()) {
		return nil
	}
	switch e := ev.(type) {
	case timeoutFired:
		return m.arbiter.MatchTimeout(e.index)
	case mediaEnded:
		return m.arbiter.MatchMedia(e.kind, e.file)
	case busMessage:
		return m.arbiter.MatchBus(e.topic, e.message)
	case immediateWinner:
		return []Candidate{e.candidate}
	}
	return nil
}

// coalesce pulls every queued resolving event of visit out of the mailbox
// and returns the candidates they produce.
func (m *Machine) coalesce(visit uint64) []Candidate {
	m.mu.Lock()
	var resolving []machineEvent
	kept := m.queue[:0:0]
	for _, ev := range m.queue {
		switch ev.(type) {
		case timeoutFired, mediaEnded, busMessage, immediateWinner:
			if ev.visitID() == visit {
				resolving = append(resolving, ev)
				continue
			}
		}
		kept = append(kept, ev)
	}
	m.queue = kept
	m.mu.Unlock()

	var out []Candidate
	for _, ev := range resolving {
		out = append(out, m.candidates(ev)...)
	}
	return out
}

func (m *Machine) handleStart() {
	if m.stopping() {
		return
	}
	now := m.clock.Now()
	m.updateStatus(func(s *machineStatus) { s.startedAt = now })
	m.emit("info", "scene.started", "", map[string]interface{}{
		"initial_state": m.scene.InitialState,
		"total_states":  len(m.scene.States),
	})
	m.enter(m.scene.InitialState)
}

func (m *Machine) enter(name string) {
	st := m.scene.States[name]
	visit := m.visit.Add(1)
	m.current = st
	entered := m.clock.Now()
	m.updateStatus(func(s *machineStatus) {
		s.currentState = name
		s.enteredAt = entered
	})
	m.emit("info", "state.entered", "", map[string]interface{}{
		"state": name,
		"visit": visit,
	})

	m.runActions(st.OnEnter, true)
	if m.stopping() {
		return
	}

	var due []int
	m.tlHandle, due = m.timeline.Arm(visit, entered, st.Timeline)
	for _, i := range due {
		if m.stopping() {
			return
		}
		m.runTimelineEntry(st, i)
	}

	var immediate []Candidate
	m.arbHandle, immediate = m.arbiter.Arm(visit, entered, st.Transitions)
	if winner, ok := Pick(immediate); ok {
		m.submit(immediateWinner{visit: visit, candidate: winner})
	}
}

// exit cancels the visit's watchers before running onExit.
func (m *Machine) exit(checkStop bool) {
	st := m.current
	m.arbiter.Cancel(m.arbHandle)
	m.timeline.Cancel(m.tlHandle)
	m.emit("info", "state.exited", "", map[string]interface{}{
		"state": st.Name,
		"visit": m.visit.Load(),
	})
	m.runActions(st.OnExit, checkStop)
	m.current = nil
}

func (m *Machine) fire(winner Candidate) {
	t := winner.Transition
	m.emit("info", "transition.fired", "", map[string]interface{}{
		"from":  m.current.Name,
		"to":    t.Goto,
		"type":  string(t.Kind),
		"index": winner.Index,
	})
	m.updateStatus(func(s *machineStatus) { s.statesCompleted++ })

	m.exit(true)
	if m.stopping() {
		return
	}

	if t.Goto == EndState {
		m.finish(OutcomeCompleted, "")
		return
	}

	if t.immediate() {
		m.hops++
	} else {
		m.hops = 0
	}
	if m.hops > maxImmediateHops {
		m.finish(OutcomeFailed, "transition loop")
		return
	}

	m.enter(t.Goto)
}

func (m *Machine) handleTimeline(e timelineFired) {
	if m.stopping() || m.current == nil || e.visit != m.visit.Load() {
		return
	}
	if e.index < 0 || e.index >= len(m.current.Timeline) {
		return
	}
	m.runTimelineEntry(m.current, e.index)
}

func (m *Machine) runTimelineEntry(st *State, index int) {
	entry := st.Timeline[index]
	m.emit("debug", "timeline.fired", "", map[string]interface{}{
		"state": st.Name,
		"index": index,
		"at":    entry.At.Seconds(),
	})
	m.exec.Execute(m.sessionID, entry.Action)
}

func (m *Machine) handleStop(reason string) {
	if m.Phase() == PhaseIdle {
		return
	}
	if m.current != nil {
		if m.runExitOnStop {
			m.exit(false)
		} else {
			m.arbiter.Cancel(m.arbHandle)
			m.timeline.Cancel(m.tlHandle)
			m.current = nil
		}
	}
	m.finish(OutcomeStopped, reason)
}

func (m *Machine) finish(outcome Outcome, reason string) {
	m.arbiter.Cancel(m.arbHandle)
	m.timeline.Cancel(m.tlHandle)
	m.phase.Store(int32(PhaseIdle))

	m.mu.Lock()
	m.queue = nil
	m.mu.Unlock()

	ended := m.clock.Now()
	m.updateStatus(func(s *machineStatus) {
		s.currentState = ""
		s.endedAt = ended
		s.outcome = outcome
		s.stopReason = reason
	})

	st := m.Status()
	fields := map[string]interface{}{
		"states_completed": st.StatesCompleted,
		"elapsed_seconds":  st.ElapsedSeconds,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	switch outcome {
	case OutcomeCompleted:
		m.emit("info", "scene.completed", "", fields)
	case OutcomeStopped:
		m.emit("info", "scene.stopped", "", fields)
	case OutcomeFailed:
		m.emit("error", "scene.failed", reason, fields)
	}

	close(m.done)
	if m.onEnd != nil {
		m.onEnd(st)
	}
}

func (m *Machine) runActions(actions []Action, checkStop bool) {
	for _, a := range actions {
		if checkStop && m.stopping() {
			return
		}
		m.exec.Execute(m.sessionID, a)
	}
}

func (m *Machine) updateStatus(fn func(*machineStatus)) {
	m.statusMu.Lock()
	fn(&m.status)
	m.statusMu.Unlock()
}

// Status returns a snapshot of the session. Safe from any goroutine.
func (m *Machine) Status() Status {
	m.statusMu.RLock()
	s := m.status
	m.statusMu.RUnlock()

	phase := m.Phase()
	now := m.clock.Now()
	out := Status{
		SessionID:       m.sessionID,
		SceneID:         m.scene.ID,
		Phase:           phase.String(),
		CurrentState:    s.currentState,
		StatesCompleted: s.statesCompleted,
		TotalStates:     len(m.scene.States),
		Outcome:         string(s.outcome),
		StopReason:      s.stopReason,
	}
	if !s.startedAt.IsZero() {
		end := now
		if !s.endedAt.IsZero() {
			end = s.endedAt
		}
		out.ElapsedSeconds = end.Sub(s.startedAt).Seconds()
	}
	if phase != PhaseIdle && s.currentState != "" {
		out.StateElapsedSeconds = now.Sub(s.enteredAt).Seconds()
	}
	return out
}

func (m *Machine) emit(level, name, msg string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["session_id"] = m.sessionID
	fields["scene_id"] = m.scene.ID
	events.Emit(level, name, msg, fields)
}

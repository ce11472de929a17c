package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/events"
)

// fakeClock fires timers only from Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
	// ignoreStop makes Stop report success without cancelling, so tests can
	// deliver a timer that lost the race with cancellation.
	ignoreStop bool
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	if !t.clock.ignoreStop {
		t.stopped = true
	}
	return true
}

// Advance moves time forward by d, firing due timers one at a time.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.fired && !t.stopped && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

// pendingTimers counts timers that can still fire.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// recordingExecutor records every action it is asked to run. hook, when
// set, is called after recording and may call back into the orchestrator.
type recordingExecutor struct {
	mu      sync.Mutex
	actions []Action
	hook    func(Action)
}

func (r *recordingExecutor) Execute(_ string, a Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(a)
	}
}

func (r *recordingExecutor) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.actions))
	for i, a := range r.actions {
		out[i] = a.Message
	}
	return out
}

type mockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	Topic    string
	Payload  string
	Retained bool
}

func (m *mockPublisher) Publish(topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

func (m *mockPublisher) getPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage{}, m.published...)
}

type mockPlayer struct {
	mu       sync.Mutex
	commands []string
	err      error
	panicOn  string

	preloaded []string
	// preloadBlock makes Preload wait for ctx.
	preloadBlock bool
}

func (p *mockPlayer) Command(cmd string) error {
	if p.panicOn != "" && cmd == p.panicOn {
		panic("player crashed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
	return p.err
}

func (p *mockPlayer) Preload(ctx context.Context, files []string) error {
	p.mu.Lock()
	p.preloaded = append(p.preloaded, files...)
	block := p.preloadBlock
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *mockPlayer) getCommands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.commands...)
}

var errBoom = errors.New("boom")

func mustLoad(t *testing.T, src string) *Scene {
	t.Helper()
	scene, err := LoadScene([]byte(src))
	if err != nil {
		t.Fatalf("failed to load scene: %v", err)
	}
	return scene
}

// newTestOrchestrator returns an orchestrator on a fake clock with a
// recording executor and a clean event buffer.
func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeClock, *recordingExecutor) {
	t.Helper()
	events.Clear()
	clock := newFakeClock()
	exec := &recordingExecutor{}
	o := New(Options{Clock: clock, Executor: exec})
	return o, clock, exec
}

func startScene(t *testing.T, o *Orchestrator, scene *Scene) *Session {
	t.Helper()
	sess, err := o.Start(context.Background(), scene)
	if err != nil {
		t.Fatalf("failed to start scene: %v", err)
	}
	return sess
}

func countEvents(name string) int {
	return len(events.Find(name))
}

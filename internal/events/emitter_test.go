package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEmitRejectsUnknownEvent(t *testing.T) {
	Clear()

	if _, err := Emit("info", "node.started", "", nil); err == nil {
		t.Fatal("expected error for unregistered event name")
	}
	if len(Snapshot()) != 0 {
		t.Errorf("rejected event must not reach the buffer")
	}
}

func TestEmitReturnsJSONLine(t *testing.T) {
	b, err := Emit("warn", "contract.rejected", "bad payload", map[string]interface{}{
		"topic": "room1/light",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("emitted line is not JSON: %v", err)
	}
	if e.Name != "contract.rejected" || e.Level != "warn" || e.Message != "bad payload" {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Timestamp == "" {
		t.Error("expected timestamp")
	}
}

func TestTotalCountIncrements(t *testing.T) {
	before := TotalCount()
	Emit("info", "state.exited", "", nil)
	Emit("info", "state.exited", "", nil)
	if got := TotalCount() - before; got != 2 {
		t.Errorf("expected count to grow by 2, grew by %d", got)
	}
}

func TestFindFiltersByName(t *testing.T) {
	Clear()
	Emit("info", "state.entered", "", map[string]interface{}{"state": "a"})
	Emit("info", "state.exited", "", map[string]interface{}{"state": "a"})
	Emit("info", "state.entered", "", map[string]interface{}{"state": "b"})

	found := Find("state.entered")
	if len(found) != 2 {
		t.Fatalf("expected 2 state.entered events, got %d", len(found))
	}
	if found[1].Fields["state"] != "b" {
		t.Errorf("expected oldest-first order, got %v", found[1].Fields["state"])
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{Name: "timeline.fired", Fields: map[string]interface{}{"i": i}})
	}

	snap := rb.Snapshot()
	if len(snap) != 3 || rb.Len() != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(snap))
	}
	if snap[0].Fields["i"] != 2 || snap[2].Fields["i"] != 4 {
		t.Errorf("unexpected order after wrap: %v .. %v", snap[0].Fields["i"], snap[2].Fields["i"])
	}

	rb.Clear()
	if rb.Len() != 0 {
		t.Errorf("expected empty buffer after Clear, got %d", rb.Len())
	}
}

type memStore struct {
	err      error
	sessions []string
	names    []string
}

func (m *memStore) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	if m.err != nil {
		return m.err
	}
	m.names = append(m.names, event)
	m.sessions = append(m.sessions, sessionID)
	return nil
}

func TestEmitPersistsToStore(t *testing.T) {
	s := &memStore{}
	SetStore(s)
	defer SetStore(nil)

	Emit("info", "scene.started", "", map[string]interface{}{"session_id": "abc"})
	Emit("info", "system.startup", "", nil)

	if len(s.names) != 2 || s.names[0] != "scene.started" {
		t.Fatalf("unexpected persisted events: %v", s.names)
	}
	if s.sessions[0] != "abc" || s.sessions[1] != "" {
		t.Errorf("unexpected session ids: %q", s.sessions)
	}
}

func TestStoreFailureRecordedOnce(t *testing.T) {
	Clear()
	SetStore(&memStore{err: errors.New("connection refused")})
	defer SetStore(nil)

	Emit("info", "state.entered", "", nil)
	Emit("info", "state.exited", "", nil)

	failures := Find("system.error")
	if len(failures) != 1 {
		t.Fatalf("expected one system.error, got %d", len(failures))
	}
	if failures[0].Fields["error"] != "connection refused" {
		t.Errorf("unexpected failure fields: %v", failures[0].Fields)
	}
	if len(Find("state.exited")) != 1 {
		t.Error("events must still reach the buffer when the store fails")
	}

	// a new store gets its own first failure report
	SetStore(&memStore{err: errors.New("again")})
	Emit("info", "state.entered", "", nil)
	if got := len(Find("system.error")); got != 2 {
		t.Errorf("expected a second report after SetStore, got %d", got)
	}
}

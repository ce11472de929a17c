package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const bufferSize = 256

// Store persists events beyond the in-memory buffer.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	buffer       = NewRingBuffer(bufferSize)
	totalEmitted atomic.Int64

	storeMu     sync.RWMutex
	store       Store
	storeFailed bool
)

// SetStore attaches the persistence backend. nil detaches it.
func SetStore(s Store) {
	storeMu.Lock()
	store = s
	storeFailed = false
	storeMu.Unlock()
}

// Emit records an event in the ring buffer, hands it to live subscribers
// and appends it to the store when one is attached. A string session_id
// field is stored in its own column so a run can be replayed later.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := Event{
		Timestamp: now.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}
	record(e)
	live.publish(e)
	persist(now, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

func record(e Event) {
	buffer.Add(e)
	totalEmitted.Add(1)
}

func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	storeMu.RUnlock()
	if s == nil {
		return
	}

	sessionID, _ := e.Fields["session_id"].(string)
	if err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields, sessionID); err != nil {
		persistFailed(err)
	}
}

// persistFailed records the first append failure since the store was set.
// It writes to the buffer directly; going through Emit would recurse into
// the failing store.
func persistFailed(err error) {
	storeMu.Lock()
	if storeFailed {
		storeMu.Unlock()
		return
	}
	storeFailed = true
	storeMu.Unlock()

	record(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "event store append failed",
		Fields:    map[string]interface{}{"error": err.Error()},
	})
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events recorded since startup.
func TotalCount() int64 {
	return totalEmitted.Load()
}

// Find returns buffered events with the given name, oldest first.
func Find(name string) []Event {
	return RecentMatching(0, func(n string) bool { return n == name })
}

// Clear empties the ring buffer.
func Clear() {
	buffer.Clear()
}

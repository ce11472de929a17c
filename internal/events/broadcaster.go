package events

import (
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

// Subscriber receives live events. Its channel is buffered; an event that
// arrives while the buffer is full is dropped for that subscriber only.
type Subscriber chan Event

// MatchFunc selects events by name. A nil MatchFunc selects everything.
type MatchFunc func(name string) bool

func (m MatchFunc) keep(name string) bool {
	return m == nil || m(name)
}

type hub struct {
	mu   sync.RWMutex
	subs map[Subscriber]MatchFunc
}

var (
	live        = &hub{subs: make(map[Subscriber]MatchFunc)}
	liveDropped atomic.Int64
)

// Subscribe registers a subscriber for every event.
func Subscribe() Subscriber {
	return SubscribeMatching(nil)
}

// SubscribeMatching registers a subscriber that only sees events whose
// name satisfies match.
func SubscribeMatching(match MatchFunc) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	live.mu.Lock()
	live.subs[ch] = match
	live.mu.Unlock()
	return ch
}

// Unsubscribe removes sub and closes its channel. Unknown or already
// removed subscribers are ignored.
func Unsubscribe(sub Subscriber) {
	live.mu.Lock()
	defer live.mu.Unlock()
	if _, ok := live.subs[sub]; !ok {
		return
	}
	delete(live.subs, sub)
	close(sub)
}

// CloseAllSubscribers closes every subscriber channel on shutdown.
func CloseAllSubscribers() {
	live.mu.Lock()
	defer live.mu.Unlock()
	for sub := range live.subs {
		close(sub)
	}
	live.subs = make(map[Subscriber]MatchFunc)
}

func SubscriberCount() int {
	live.mu.RLock()
	defer live.mu.RUnlock()
	return len(live.subs)
}

// DroppedCount is the number of live deliveries skipped because a
// subscriber was not keeping up.
func DroppedCount() int64 {
	return liveDropped.Load()
}

func (h *hub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub, match := range h.subs {
		if !match.keep(e.Name) {
			continue
		}
		select {
		case sub <- e:
		default:
			liveDropped.Add(1)
		}
	}
}

// RecentEvents returns the last n buffered events, oldest first. Zero or a
// count beyond the buffer returns everything.
func RecentEvents(n int) []Event {
	return RecentMatching(n, nil)
}

// RecentMatching is RecentEvents restricted to events selected by match.
func RecentMatching(n int, match MatchFunc) []Event {
	all := buffer.Snapshot()
	if match != nil {
		kept := all[:0]
		for _, e := range all {
			if match(e.Name) {
				kept = append(kept, e)
			}
		}
		all = kept
	}
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

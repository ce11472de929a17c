package events

import (
	"strings"
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscriber) Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for broadcast event")
	}
	return Event{}
}

func TestSubscriberCount(t *testing.T) {
	initial := SubscriberCount()

	a := Subscribe()
	b := SubscribeMatching(func(string) bool { return false })
	if got := SubscriberCount(); got != initial+2 {
		t.Fatalf("expected %d subscribers, got %d", initial+2, got)
	}

	Unsubscribe(a)
	Unsubscribe(b)
	if got := SubscriberCount(); got != initial {
		t.Errorf("expected %d subscribers after unsubscribe, got %d", initial, got)
	}
}

func TestSubscribersReceiveEmittedEvents(t *testing.T) {
	a := Subscribe()
	b := Subscribe()
	defer Unsubscribe(a)
	defer Unsubscribe(b)

	Emit("info", "state.entered", "", map[string]interface{}{"state": "intro"})

	for _, sub := range []Subscriber{a, b} {
		e := receive(t, sub)
		if e.Name != "state.entered" || e.Fields["state"] != "intro" {
			t.Errorf("unexpected event: %+v", e)
		}
	}
}

func TestSubscribeMatchingFilters(t *testing.T) {
	sub := SubscribeMatching(func(name string) bool { return strings.HasPrefix(name, "scene.") })
	defer Unsubscribe(sub)

	Emit("info", "state.entered", "", nil)
	Emit("info", "scene.completed", "", nil)

	if e := receive(t, sub); e.Name != "scene.completed" {
		t.Errorf("expected only scene events, got %s", e.Name)
	}
	select {
	case e := <-sub:
		t.Errorf("unexpected extra event %s", e.Name)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	sub := Subscribe()
	defer Unsubscribe(sub)

	before := DroppedCount()
	for i := 0; i < subscriberBuffer+5; i++ {
		Emit("debug", "timeline.fired", "", nil)
	}

	if got := DroppedCount() - before; got < 5 {
		t.Errorf("expected at least 5 drops, got %d", got)
	}
	if len(sub) != subscriberBuffer {
		t.Errorf("expected a full buffer of %d, got %d", subscriberBuffer, len(sub))
	}
}

func TestRecentEvents(t *testing.T) {
	Clear()
	for i := 0; i < 10; i++ {
		Emit("info", "timeline.fired", "", map[string]interface{}{"i": i})
	}

	recent := RecentEvents(5)
	if len(recent) != 5 || recent[0].Fields["i"] != 5 {
		t.Fatalf("expected the last 5 events starting at i=5, got %d events", len(recent))
	}
	if got := len(RecentEvents(100)); got != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", got)
	}
	if got := len(RecentEvents(0)); got != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", got)
	}
}

func TestRecentMatching(t *testing.T) {
	Clear()
	Emit("info", "state.entered", "", map[string]interface{}{"state": "a"})
	Emit("info", "transition.fired", "", nil)
	Emit("info", "state.entered", "", map[string]interface{}{"state": "b"})
	Emit("info", "state.entered", "", map[string]interface{}{"state": "c"})

	got := RecentMatching(2, func(name string) bool { return name == "state.entered" })
	if len(got) != 2 || got[0].Fields["state"] != "b" || got[1].Fields["state"] != "c" {
		t.Errorf("unexpected matches: %+v", got)
	}
	if len(Snapshot()) != 4 {
		t.Error("filtering must not modify the buffer")
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	sub := Subscribe()
	Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	Unsubscribe(sub)
}

func TestCloseAllSubscribers(t *testing.T) {
	CloseAllSubscribers()

	subs := []Subscriber{Subscribe(), Subscribe(), Subscribe()}
	CloseAllSubscribers()

	for i, sub := range subs {
		if _, ok := <-sub; ok {
			t.Errorf("subscriber %d still open", i)
		}
	}
	if SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", SubscriberCount())
	}
}

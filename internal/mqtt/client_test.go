package mqtt

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
)

type mockToken struct {
	err      error
	timedOut bool
}

func (t *mockToken) Wait() bool                       { return !t.timedOut }
func (t *mockToken) WaitTimeout(_ time.Duration) bool { return !t.timedOut }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakePaho implements paho.Client without a broker.
type fakePaho struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	// pending, when set, is returned for every publish instead of a
	// completed token.
	pending    paho.Token
	published  []published
	subscribed []string
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return &mockToken{}
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}
func (f *fakePaho) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &mockToken{err: f.publishErr}
	}
	f.published = append(f.published, published{topic, payload.([]byte), retained})
	if f.pending != nil {
		return f.pending
	}
	return &mockToken{}
}
func (f *fakePaho) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return &mockToken{}
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &mockToken{}
}
func (f *fakePaho) Unsubscribe(...string) paho.Token        { return &mockToken{} }
func (f *fakePaho) AddRoute(string, paho.MessageHandler)    {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func TestClient_PublishNotConnected(t *testing.T) {
	c := newClientWith(&fakePaho{}, "tcp://test:1883")

	err := c.Publish("room1/light", []byte("ON"), false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_PublishEmptyTopic(t *testing.T) {
	c := newClientWith(&fakePaho{connected: true}, "tcp://test:1883")

	if err := c.Publish("", []byte("ON"), false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("expected ErrInvalidTopic, got %v", err)
	}
}

func TestClient_Publish(t *testing.T) {
	fp := &fakePaho{connected: true}
	c := newClientWith(fp, "tcp://test:1883")

	if err := c.Publish("room1/light", []byte("ON"), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fp.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fp.published))
	}
	got := fp.published[0]
	if got.topic != "room1/light" || string(got.payload) != "ON" || !got.retained {
		t.Errorf("unexpected publish %+v", got)
	}
}

func TestClient_PublishFailureWrapped(t *testing.T) {
	cause := errors.New("broker said no")
	c := newClientWith(&fakePaho{connected: true, publishErr: cause}, "tcp://test:1883")

	err := c.Publish("room1/light", []byte("ON"), false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("expected ErrPublishFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause preserved, got %v", err)
	}
}

// stalledToken models a broker that never or only later acknowledges.
// WaitTimeout blocks for the full duration, like a real unanswered token.
type stalledToken struct {
	done chan struct{}
	err  error
}

func newStalledToken() *stalledToken { return &stalledToken{done: make(chan struct{})} }

func (t *stalledToken) Wait() bool {
	<-t.done
	return true
}
func (t *stalledToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *stalledToken) Done() <-chan struct{} { return t.done }
func (t *stalledToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
func (t *stalledToken) complete(err error) {
	t.err = err
	close(t.done)
}

func waitForEvent(t *testing.T, name string, within time.Duration) []events.Event {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if found := events.Find(name); len(found) > 0 {
			return found
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event within %v", name, within)
	return nil
}

func TestClient_PublishDoesNotWaitForAck(t *testing.T) {
	events.Clear()
	fp := &fakePaho{connected: true, pending: newStalledToken()}
	c := newClientWith(fp, "tcp://test:1883")
	c.ackTimeout = 50 * time.Millisecond

	start := time.Now()
	if err := c.Publish("room1/light/1", []byte("ON"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Publish held the caller for %v", elapsed)
	}

	failed := waitForEvent(t, "action.failed", time.Second)
	if failed[0].Fields["topic"] != "room1/light/1" {
		t.Errorf("unexpected failure fields: %v", failed[0].Fields)
	}
}

func TestClient_LateDeliveryFailureReported(t *testing.T) {
	events.Clear()
	tok := newStalledToken()
	c := newClientWith(&fakePaho{connected: true, pending: tok}, "tcp://test:1883")

	if err := c.Publish("room1/effects/fog", []byte("ON"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok.complete(errors.New("connection reset"))

	failed := waitForEvent(t, "action.failed", time.Second)
	if msg, _ := failed[0].Fields["error"].(string); !strings.Contains(msg, "connection reset") {
		t.Errorf("expected the delivery error, got %v", failed[0].Fields["error"])
	}
}

func TestClient_LateAckIsSilent(t *testing.T) {
	events.Clear()
	tok := newStalledToken()
	c := newClientWith(&fakePaho{connected: true, pending: tok}, "tcp://test:1883")
	c.ackTimeout = 200 * time.Millisecond

	if err := c.Publish("room1/motor1", []byte("STOP"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok.complete(nil)

	time.Sleep(300 * time.Millisecond)
	if got := events.Find("action.failed"); len(got) != 0 {
		t.Errorf("acknowledged publish reported as failed: %+v", got)
	}
}

// A stalled broker must not hold the dispatcher, and with it the scene.
func TestDispatcherReturnsWhileBrokerStalls(t *testing.T) {
	events.Clear()
	tok := newStalledToken()
	t.Cleanup(func() { tok.complete(nil) })
	fp := &fakePaho{connected: true, pending: tok}
	c := newClientWith(fp, "tcp://test:1883")
	d := orchestrator.NewDispatcher(orchestrator.DispatcherConfig{Publisher: c})

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Execute("s1", orchestrator.Action{Kind: orchestrator.ActionDevice, Topic: "room1/light/1", Message: "ON"})
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("10 dispatches took %v with a stalled broker", elapsed)
	}
	if got := len(events.Find("action.dispatched")); got != 10 {
		t.Errorf("expected 10 action.dispatched events, got %d", got)
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.published) != 10 {
		t.Errorf("expected 10 publishes handed to paho, got %d", len(fp.published))
	}
}

func TestClient_SubscribeBeforeConnectIsReplayed(t *testing.T) {
	events.Clear()
	fp := &fakePaho{}
	c := newClientWith(fp, "tcp://test:1883")

	noop := func(paho.Client, paho.Message) {}
	if err := c.Subscribe("room1/#", noop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fp.subscribed) != 0 {
		t.Fatal("should not subscribe while disconnected")
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	c.handleConnect()

	if len(fp.subscribed) != 1 || fp.subscribed[0] != "room1/#" {
		t.Errorf("expected subscription replayed, got %v", fp.subscribed)
	}
	if len(events.Find("mqtt.connected")) != 1 {
		t.Error("expected mqtt.connected event")
	}

	// Reconnects replay again.
	c.handleConnect()
	if len(fp.subscribed) != 2 {
		t.Errorf("expected replay on reconnect, got %v", fp.subscribed)
	}
}

func TestClient_ConnectionLost(t *testing.T) {
	events.Clear()
	c := newClientWith(&fakePaho{}, "tcp://test:1883")

	c.handleConnectionLost(errors.New("EOF"))

	ev := events.Find("mqtt.disconnected")
	if len(ev) != 1 {
		t.Fatalf("expected 1 mqtt.disconnected, got %d", len(ev))
	}
	if ev[0].Fields["error"] != "EOF" {
		t.Errorf("expected error field, got %v", ev[0].Fields["error"])
	}
}

func TestErrorTypes(t *testing.T) {
	if (&ConnectTimeoutError{Broker: "tcp://x"}).Error() != "mqtt connect timeout: tcp://x" {
		t.Error("unexpected connect timeout message")
	}
	if (&SubscribeTimeoutError{Topic: "a/b"}).Error() != "mqtt subscribe timeout: a/b" {
		t.Error("unexpected subscribe timeout message")
	}
}

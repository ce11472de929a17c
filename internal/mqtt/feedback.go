package mqtt

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/contract"
	"github.com/AaronLay10/SentientRoom/internal/events"
)

const (
	defaultFeedbackTimeout = 2 * time.Second
	feedbackOK             = "OK"
)

type stopper interface {
	Stop() bool
}

type pendingCommand struct {
	message       string
	feedbackTopic string
	sentAt        time.Time
	timer         stopper
}

// FeedbackTracker watches each published device command for its
// <topic>/feedback answer. It only tracks while a scene is running.
type FeedbackTracker struct {
	mu      sync.Mutex
	enabled bool
	timeout time.Duration
	pending map[string]*pendingCommand

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
}

// NewFeedbackTracker creates a disabled tracker.
func NewFeedbackTracker(timeout time.Duration) *FeedbackTracker {
	if timeout <= 0 {
		timeout = defaultFeedbackTimeout
	}
	return &FeedbackTracker{
		timeout: timeout,
		pending: make(map[string]*pendingCommand),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Enable starts tracking published commands.
func (t *FeedbackTracker) Enable() {
	t.mu.Lock()
	t.enabled = true
	t.mu.Unlock()
}

// Disable stops tracking and reports every command still waiting.
func (t *FeedbackTracker) Disable() {
	t.mu.Lock()
	t.enabled = false
	pending := t.pending
	t.pending = make(map[string]*pendingCommand)
	t.mu.Unlock()

	for topic, cmd := range pending {
		cmd.timer.Stop()
		events.Emit("warn", "device.feedback_timeout", "tracking ended before feedback", map[string]interface{}{
			"topic":   topic,
			"message": cmd.message,
		})
	}
}

// Enabled reports whether commands are being tracked.
func (t *FeedbackTracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Published records a command that just reached the bus. A second command
// on the same topic replaces the first.
func (t *FeedbackTracker) Published(topic, message string) {
	if strings.HasSuffix(topic, "/audio") || strings.HasSuffix(topic, "/video") {
		return
	}
	feedbackTopic, ok := contract.ExpectedFeedbackTopic(topic)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if prev, ok := t.pending[topic]; ok {
		prev.timer.Stop()
	}

	cmd := &pendingCommand{
		message:       message,
		feedbackTopic: feedbackTopic,
		sentAt:        t.now(),
	}
	cmd.timer = t.afterFunc(t.timeout, func() { t.expire(topic, cmd) })
	t.pending[topic] = cmd
}

// HandleFeedback resolves the pending command a feedback message answers.
// It reports whether a pending command matched.
func (t *FeedbackTracker) HandleFeedback(feedbackTopic, payload string) bool {
	topic, ok := contract.CommandTopic(feedbackTopic)
	if !ok {
		return false
	}

	t.mu.Lock()
	cmd, ok := t.pending[topic]
	if ok {
		delete(t.pending, topic)
		cmd.timer.Stop()
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	payload = strings.TrimSpace(payload)
	fields := map[string]interface{}{
		"topic":      topic,
		"message":    cmd.message,
		"feedback":   payload,
		"latency_ms": t.now().Sub(cmd.sentAt).Milliseconds(),
	}
	if strings.EqualFold(payload, feedbackOK) {
		events.Emit("info", "device.feedback", "", fields)
	} else {
		events.Emit("warn", "device.feedback", "device reported error", fields)
	}
	return true
}

// Pending returns the command topics still waiting for feedback.
func (t *FeedbackTracker) Pending() []string {
	t.mu.Lock()
	topics := make([]string, 0, len(t.pending))
	for topic := range t.pending {
		topics = append(topics, topic)
	}
	t.mu.Unlock()
	sort.Strings(topics)
	return topics
}

func (t *FeedbackTracker) expire(topic string, cmd *pendingCommand) {
	t.mu.Lock()
	if t.pending[topic] != cmd {
		t.mu.Unlock()
		return
	}
	delete(t.pending, topic)
	t.mu.Unlock()

	events.Emit("error", "device.feedback_timeout", "no feedback received", map[string]interface{}{
		"topic":          topic,
		"message":        cmd.message,
		"feedback_topic": cmd.feedbackTopic,
		"timeout_ms":     t.timeout.Milliseconds(),
	})
}

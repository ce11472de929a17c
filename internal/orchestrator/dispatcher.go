package orchestrator

import (
	"errors"
	"fmt"

	"github.com/AaronLay10/SentientRoom/internal/contract"
	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/media"
)

// Publisher is the message bus client as the dispatcher sees it.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// PublishObserver is told about every device command that reached the bus.
type PublishObserver interface {
	Published(topic, message string)
}

// Executor runs one action on behalf of a session.
type Executor interface {
	Execute(sessionID string, a Action)
}

// Dispatcher routes actions to the bus or the media collaborators. Device
// commands pass the command contract first. Nothing it does returns an
// error: failures are emitted as events and the action is dropped.
type Dispatcher struct {
	publisher Publisher
	audio     media.AudioPlayer
	video     media.VideoPlayer
	observer  PublishObserver
}

// DispatcherConfig wires the collaborators. Any of them may be nil, in
// which case the action is recorded as simulated.
type DispatcherConfig struct {
	Publisher Publisher
	Audio     media.AudioPlayer
	Video     media.VideoPlayer
	Observer  PublishObserver
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		publisher: cfg.Publisher,
		audio:     cfg.Audio,
		video:     cfg.Video,
		observer:  cfg.Observer,
	}
}

// Execute runs a. It never panics and never blocks on the collaborator
// beyond the call itself.
func (d *Dispatcher) Execute(sessionID string, a Action) {
	fields := actionFields(sessionID, a)
	defer func() {
		if r := recover(); r != nil {
			fields["error"] = fmt.Sprint(r)
			events.Emit("error", "action.failed", "collaborator panicked", fields)
		}
	}()

	switch a.Kind {
	case ActionDevice:
		d.publish(a, fields)
	case ActionAudio:
		if d.audio == nil {
			events.Emit("info", "action.simulated", "no audio player attached", fields)
			return
		}
		d.command(d.audio.Command, a, fields)
	case ActionVideo:
		if d.video == nil {
			events.Emit("info", "action.simulated", "no video player attached", fields)
			return
		}
		d.command(d.video.Command, a, fields)
	default:
		events.Emit("error", "action.failed", "unknown action kind", fields)
	}
}

func (d *Dispatcher) publish(a Action, fields map[string]interface{}) {
	if err := a.checkContract(); err != nil {
		fields["error"] = err.Error()
		var r *contract.Rejection
		if errors.As(err, &r) {
			fields["category"] = string(r.Category)
			fields["reason"] = r.Reason
		}
		events.Emit("warn", "contract.rejected", "device command dropped", fields)
		return
	}

	if d.publisher == nil {
		events.Emit("info", "action.simulated", "no bus client attached", fields)
		return
	}

	if err := d.publisher.Publish(a.Topic, []byte(a.Message), a.Retain); err != nil {
		fields["error"] = err.Error()
		events.Emit("error", "action.failed", "publish failed", fields)
		return
	}

	events.Emit("info", "action.dispatched", "", fields)
	if d.observer != nil {
		d.observer.Published(a.Topic, a.Message)
	}
}

func (d *Dispatcher) command(run func(string) error, a Action, fields map[string]interface{}) {
	if err := run(a.Message); err != nil {
		fields["error"] = err.Error()
		events.Emit("error", "action.failed", string(a.Kind)+" command failed", fields)
		return
	}
	events.Emit("info", "action.dispatched", "", fields)
}

func actionFields(sessionID string, a Action) map[string]interface{} {
	fields := map[string]interface{}{
		"kind":    string(a.Kind),
		"message": a.Message,
	}
	if a.Topic != "" {
		fields["topic"] = a.Topic
	}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	return fields
}

package orchestrator

import (
	"sync"
	"testing"

	"github.com/AaronLay10/SentientRoom/internal/events"
)

type recordingObserver struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingObserver) Published(topic, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func TestDispatcherPublishesValidDeviceCommand(t *testing.T) {
	events.Clear()
	pub := &mockPublisher{}
	obs := &recordingObserver{}
	d := NewDispatcher(DispatcherConfig{Publisher: pub, Observer: obs})

	d.Execute("sess-1", Action{Kind: ActionDevice, Topic: "room1/motor1", Message: "SPEED:30", Retain: true})

	published := pub.getPublished()
	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	if published[0].Topic != "room1/motor1" || published[0].Payload != "SPEED:30" || !published[0].Retained {
		t.Errorf("unexpected publish %+v", published[0])
	}
	if len(obs.topics) != 1 || obs.topics[0] != "room1/motor1" {
		t.Errorf("observer not told about publish: %v", obs.topics)
	}

	dispatched := events.Find("action.dispatched")
	if len(dispatched) != 1 {
		t.Fatalf("expected action.dispatched event, got %d", len(dispatched))
	}
	if dispatched[0].Fields["session_id"] != "sess-1" {
		t.Errorf("expected session_id on event, got %v", dispatched[0].Fields)
	}
}

func TestDispatcherDropsRejectedCommand(t *testing.T) {
	events.Clear()
	pub := &mockPublisher{}
	obs := &recordingObserver{}
	d := NewDispatcher(DispatcherConfig{Publisher: pub, Observer: obs})

	d.Execute("", Action{Kind: ActionDevice, Topic: "room1/light/1", Message: "SPEED:30"})

	if len(pub.getPublished()) != 0 {
		t.Error("rejected command must not be published")
	}
	if len(obs.topics) != 0 {
		t.Error("observer must not see rejected commands")
	}
	rejected := events.Find("contract.rejected")
	if len(rejected) != 1 {
		t.Fatalf("expected contract.rejected event, got %d", len(rejected))
	}
	if rejected[0].Fields["category"] != "light" {
		t.Errorf("expected light category, got %v", rejected[0].Fields["category"])
	}
}

func TestDispatcherPublishError(t *testing.T) {
	events.Clear()
	pub := &mockPublisher{err: errBoom}
	d := NewDispatcher(DispatcherConfig{Publisher: pub})

	d.Execute("", Action{Kind: ActionDevice, Topic: "room1/motor1", Message: "ON"})

	if countEvents("action.failed") != 1 {
		t.Error("expected action.failed on publish error")
	}
}

func TestDispatcherMediaPassthrough(t *testing.T) {
	events.Clear()
	audio := &mockPlayer{}
	video := &mockPlayer{}
	d := NewDispatcher(DispatcherConfig{Audio: audio, Video: video})

	d.Execute("", Action{Kind: ActionAudio, Message: "PLAY:intro.mp3:0.8"})
	d.Execute("", Action{Kind: ActionVideo, Message: "SEEK:12"})

	if cmds := audio.getCommands(); len(cmds) != 1 || cmds[0] != "PLAY:intro.mp3:0.8" {
		t.Errorf("audio command not passed verbatim: %v", cmds)
	}
	if cmds := video.getCommands(); len(cmds) != 1 || cmds[0] != "SEEK:12" {
		t.Errorf("video command not passed verbatim: %v", cmds)
	}
	if countEvents("action.dispatched") != 2 {
		t.Errorf("expected 2 action.dispatched events, got %d", countEvents("action.dispatched"))
	}
}

func TestDispatcherSwallowsCollaboratorFailures(t *testing.T) {
	events.Clear()
	audio := &mockPlayer{err: errBoom}
	video := &mockPlayer{panicOn: "PLAY_VIDEO:broken.mp4"}
	d := NewDispatcher(DispatcherConfig{Audio: audio, Video: video})

	d.Execute("", Action{Kind: ActionAudio, Message: "missing.mp3"})
	d.Execute("", Action{Kind: ActionVideo, Message: "PLAY_VIDEO:broken.mp4"})
	d.Execute("", Action{Kind: ActionVideo, Message: "STOP_VIDEO"})

	if countEvents("action.failed") != 2 {
		t.Errorf("expected 2 action.failed events, got %d", countEvents("action.failed"))
	}
	if cmds := video.getCommands(); len(cmds) != 1 || cmds[0] != "STOP_VIDEO" {
		t.Errorf("dispatcher should keep working after a panic: %v", cmds)
	}
}

func TestDispatcherSimulatesMissingCollaborators(t *testing.T) {
	events.Clear()
	d := NewDispatcher(DispatcherConfig{})

	d.Execute("", Action{Kind: ActionDevice, Topic: "room1/motor1", Message: "ON"})
	d.Execute("", Action{Kind: ActionAudio, Message: "PLAY:a.mp3"})
	d.Execute("", Action{Kind: ActionVideo, Message: "PLAY_VIDEO:a.mp4"})

	if countEvents("action.simulated") != 3 {
		t.Errorf("expected 3 action.simulated events, got %d", countEvents("action.simulated"))
	}
}

func TestDispatcherAcceptsScalarPayloads(t *testing.T) {
	events.Clear()
	scene := mustLoad(t, `{"sceneId": "s", "initialState": "a", "states": {"a": {
		"onEnter": [
			{"action": "mqtt", "topic": "room1/motor1", "message": 30},
			{"action": "mqtt", "topic": "room1/light/1", "message": true},
			{"action": "mqtt", "topic": "room1/light/2", "message": "30"}
		]
	}}}`)
	if problems := scene.ContractProblems(); len(problems) != 1 {
		t.Fatalf("only the quoted \"30\" on a light should be a problem, got %v", problems)
	}

	pub := &mockPublisher{}
	d := NewDispatcher(DispatcherConfig{Publisher: pub})
	for _, a := range scene.States["a"].OnEnter {
		d.Execute("", a)
	}

	published := pub.getPublished()
	if len(published) != 2 {
		t.Fatalf("expected 2 publishes, got %+v", published)
	}
	if published[0].Payload != "30" || published[1].Payload != "true" {
		t.Errorf("scalar payloads should go out as JSON text, got %+v", published)
	}
	if countEvents("contract.rejected") != 1 {
		t.Errorf("expected the quoted payload to be rejected")
	}
}

func TestScalarPayloadStillChecksTopic(t *testing.T) {
	events.Clear()
	pub := &mockPublisher{}
	d := NewDispatcher(DispatcherConfig{Publisher: pub})

	d.Execute("", Action{Kind: ActionDevice, Topic: "kitchen/oven", Message: "1", Scalar: true})

	if len(pub.getPublished()) != 0 || countEvents("contract.rejected") != 1 {
		t.Error("scalar payload on an unknown topic must be rejected")
	}
}

package mqtt

import (
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientRoom/internal/contract"
	"github.com/AaronLay10/SentientRoom/internal/events"
)

// Subscriber is the part of the bus client the room subscriber needs.
type Subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

// MessageFunc receives an inbound topic and its trimmed payload.
type MessageFunc func(topic, payload string)

// RoomSubscriberConfig wires the inbound routes. Any field may be nil.
type RoomSubscriberConfig struct {
	RoomID   string
	Registry *DeviceRegistry
	Tracker  *FeedbackTracker
	// OnTrigger receives scene and start_scene messages.
	OnTrigger MessageFunc
	// OnMessage receives every inbound message after routing.
	OnMessage MessageFunc
}

// RoomSubscriber subscribes to a room's inbound topics and routes them.
type RoomSubscriber struct {
	client Subscriber
	cfg    RoomSubscriberConfig
}

func NewRoomSubscriber(client Subscriber, cfg RoomSubscriberConfig) *RoomSubscriber {
	return &RoomSubscriber{client: client, cfg: cfg}
}

// Topics returns the subscription filters for the room.
func (s *RoomSubscriber) Topics() []string {
	return contract.RoomSubscriptions(s.cfg.RoomID)
}

// SubscribeAll subscribes to every room filter, stopping at the first error.
func (s *RoomSubscriber) SubscribeAll() error {
	for _, topic := range s.Topics() {
		if err := s.client.Subscribe(topic, s.handleMessage); err != nil {
			events.Emit("error", "system.error", "failed to subscribe", map[string]interface{}{
				"topic": topic,
				"error": err.Error(),
			})
			return err
		}
	}
	return nil
}

func (s *RoomSubscriber) handleMessage(_ paho.Client, msg paho.Message) {
	s.Route(msg.Topic(), string(msg.Payload()), msg.Retained())
}

// Route dispatches one inbound message.
func (s *RoomSubscriber) Route(topic, payload string, retained bool) {
	payload = strings.TrimSpace(payload)

	switch contract.Classify(topic) {
	case contract.CategoryDeviceStatus:
		if id, ok := contract.DeviceID(topic); ok && s.cfg.Registry != nil {
			s.cfg.Registry.UpdateStatus(id, payload, retained)
		}
	case contract.CategoryFeedback:
		if s.cfg.Tracker != nil {
			s.cfg.Tracker.HandleFeedback(topic, payload)
		}
	case contract.CategorySceneStart, contract.CategoryNamedScene:
		if retained {
			// Retained triggers are stale broker state.
			break
		}
		if s.cfg.OnTrigger != nil {
			s.cfg.OnTrigger(topic, payload)
		}
	default:
		events.Emit("info", "device.input", "", map[string]interface{}{
			"topic":    topic,
			"payload":  payload,
			"retained": retained,
		})
	}

	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(topic, payload)
	}
}

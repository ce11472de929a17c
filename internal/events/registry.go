package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scene
	"scene.loaded":          {},
	"scene.started":         {},
	"scene.completed":       {},
	"scene.stopped":         {},
	"scene.failed":          {},
	"scene.trigger_ignored": {},

	// state
	"state.entered": {},
	"state.exited":  {},

	// transition / timeline
	"transition.fired": {},
	"timeline.fired":   {},

	// action
	"action.dispatched": {},
	"action.failed":     {},
	"action.simulated":  {},

	// contract
	"contract.rejected": {},

	// media
	"media.precache":         {},
	"media.precache_timeout": {},
	"media.ended":            {},

	// device
	"device.online":           {},
	"device.offline":          {},
	"device.status_invalid":   {},
	"device.input":            {},
	"device.feedback":         {},
	"device.feedback_timeout": {},

	// mqtt
	"mqtt.connected":    {},
	"mqtt.disconnected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}

package contract

import "strings"

const feedbackSuffix = "/feedback"

// ExpectedFeedbackTopic returns the topic a device answers a command on.
// Control topics (STOP, RESET, GLOBAL) and non-device categories expect none.
func ExpectedFeedbackTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	switch strings.ToUpper(parts[len(parts)-1]) {
	case "STOP", "RESET", "GLOBAL":
		return "", false
	}

	switch Classify(topic) {
	case CategoryMotor, CategoryLight, CategoryEffects, CategoryRoomGeneric:
		return topic + feedbackSuffix, true
	}
	return "", false
}

// CommandTopic strips the feedback suffix, returning the command topic a
// feedback message answers.
func CommandTopic(feedbackTopic string) (string, bool) {
	if !strings.HasSuffix(feedbackTopic, feedbackSuffix) {
		return "", false
	}
	return strings.TrimSuffix(feedbackTopic, feedbackSuffix), true
}

// DeviceStatusFilter matches every device presence topic.
const DeviceStatusFilter = "devices/+/status"

// RoomSubscriptions is the inbound subscription set for a room. The room
// wildcard covers per-command feedback, scene triggers and generic topics.
func RoomSubscriptions(roomID string) []string {
	return []string{DeviceStatusFilter, RoomPrefix(roomID) + "/#"}
}

// RoomPrefix normalizes a room id such as "1" or "room1" to "room1".
func RoomPrefix(roomID string) string {
	if strings.HasPrefix(roomID, "room") {
		return roomID
	}
	return "room" + roomID
}

func SceneTopic(roomID string) string {
	return RoomPrefix(roomID) + "/scene"
}

func NamedSceneTopic(roomID string) string {
	return RoomPrefix(roomID) + "/start_scene"
}

// DeviceID extracts the id from a devices/<id>/status topic.
func DeviceID(statusTopic string) (string, bool) {
	if Classify(statusTopic) != CategoryDeviceStatus {
		return "", false
	}
	return strings.Split(statusTopic, "/")[1], true
}

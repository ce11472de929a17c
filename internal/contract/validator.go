// Package contract classifies outbound bus topics and checks command
// payloads against the grammar of their category before they are published.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Category is the device bucket a topic belongs to.
type Category string

const (
	CategoryInvalid      Category = "invalid"
	CategoryUnknown      Category = "unknown"
	CategoryDeviceStatus Category = "device_status"
	CategoryFeedback     Category = "feedback"
	CategorySceneStart   Category = "scene_start"
	CategoryNamedScene   Category = "named_scene"
	CategoryMotor        Category = "motor"
	CategoryLight        Category = "light"
	CategoryEffects      Category = "effects"
	CategoryEmergency    Category = "emergency"
	CategoryGlobalStop   Category = "global_stop"
	CategoryRoomGeneric  Category = "room_generic"
)

// MaxPermissivePayload bounds payloads of the permissive categories.
const MaxPermissivePayload = 256

// ErrRejected is matched by every *Rejection.
var ErrRejected = errors.New("command rejected")

// Rejection describes why a (topic, message) pair may not be published.
type Rejection struct {
	Topic    string
	Message  string
	Category Category
	Reason   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected %s (%s): %s", r.Topic, r.Category, r.Reason)
}

func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

var (
	roomPrefixRE   = regexp.MustCompile(`^room[\w-]+`)
	deviceStatusRE = regexp.MustCompile(`^devices/[^/]+/status$`)
	roomFeedbackRE = regexp.MustCompile(`^room[\w-]+/[^/]+(?:/[^/]+)*/feedback$`)
	roomSceneRE    = regexp.MustCompile(`^room[\w-]+/scene$`)
	roomStartRE    = regexp.MustCompile(`^room[\w-]+/start_scene$`)
	roomMotorRE    = regexp.MustCompile(`^room[\w-]+/motor(?:\d+)?$`)
	roomLightRE    = regexp.MustCompile(`^room[\w-]+/light(?:/[^/]+)?$`)
	roomEffectsRE  = regexp.MustCompile(`^room[\w-]+/effects?(?:/[^/]+)?$`)
	roomEmergRE    = regexp.MustCompile(`^room[\w-]+/emergency$`)

	onOffRE     = regexp.MustCompile(`(?i)^(ON|OFF)$`)
	speedRE     = regexp.MustCompile(`(?i)^SPEED:\d{1,3}$`)
	motorRampRE = regexp.MustCompile(`(?i)^ON:\d{1,3}:[LR](?::\d+)?$`)
)

// Namespaces where a near miss must not fall through to room_generic.
var reservedNamespaces = []string{"light", "motor", "effect", "effects", "scene", "start_scene", "emergency"}

// Classify maps a topic to its category. The first matching pattern wins.
func Classify(topic string) Category {
	switch {
	case topic == "":
		return CategoryInvalid
	case deviceStatusRE.MatchString(topic):
		return CategoryDeviceStatus
	case roomFeedbackRE.MatchString(topic):
		return CategoryFeedback
	case roomSceneRE.MatchString(topic):
		return CategorySceneStart
	case roomStartRE.MatchString(topic):
		return CategoryNamedScene
	case roomMotorRE.MatchString(topic):
		return CategoryMotor
	case roomLightRE.MatchString(topic):
		return CategoryLight
	case roomEffectsRE.MatchString(topic):
		return CategoryEffects
	case roomEmergRE.MatchString(topic):
		return CategoryEmergency
	case strings.HasSuffix(topic, "/STOP"):
		return CategoryGlobalStop
	case roomPrefixRE.MatchString(topic):
		return CategoryRoomGeneric
	}
	return CategoryUnknown
}

// ValidateTopic checks that a topic may be published to.
func ValidateTopic(topic string) error {
	cat := Classify(topic)
	switch {
	case cat == CategoryInvalid:
		return reject(topic, "", cat, "empty topic")
	case cat == CategoryUnknown:
		return reject(topic, "", cat, "unsupported topic format")
	case strings.ContainsAny(topic, "+#"):
		return reject(topic, "", cat, "wildcards are not allowed in publish topics")
	case cat == CategoryRoomGeneric && isNamespaceTypo(topic):
		return reject(topic, "", cat, "malformed room namespace (possible typo)")
	}
	return nil
}

// ValidatePayload checks message against the grammar of topic's category.
func ValidatePayload(topic, message string) error {
	cat := Classify(topic)
	normalized := strings.TrimSpace(message)
	if normalized == "" {
		return reject(topic, message, cat, "payload must be non-empty")
	}
	upper := strings.ToUpper(normalized)

	switch cat {
	case CategoryMotor:
		if onOffRE.MatchString(normalized) || upper == "STOP" ||
			speedRE.MatchString(normalized) || motorRampRE.MatchString(normalized) {
			return nil
		}
		return reject(topic, message, cat, fmt.Sprintf("invalid motor payload %q", message))

	case CategoryLight, CategoryEffects, CategoryEmergency, CategoryGlobalStop:
		if onOffRE.MatchString(normalized) || upper == "STOP" || upper == "RESET" || upper == "BLINK" {
			return nil
		}
		return reject(topic, message, cat, fmt.Sprintf("invalid on/off payload %q", message))

	case CategorySceneStart:
		if upper == "START" {
			return nil
		}
		return reject(topic, message, cat, fmt.Sprintf("scene trigger expects START, got %q", message))

	case CategoryNamedScene:
		if strings.HasSuffix(normalized, ".json") {
			return nil
		}
		return reject(topic, message, cat, fmt.Sprintf("named scene expects <name>.json, got %q", message))
	}

	return checkPermissive(topic, message, cat)
}

// Validate runs the topic check followed by the payload check.
func Validate(topic, message string) error {
	if err := validateTopicFor(topic, message); err != nil {
		return err
	}
	return ValidatePayload(topic, message)
}

// ValidateScalar checks a command whose payload was authored as a JSON
// number or boolean. Such payloads are accepted for every category, so
// only the topic is checked.
func ValidateScalar(topic, message string) error {
	return validateTopicFor(topic, message)
}

func validateTopicFor(topic, message string) error {
	err := ValidateTopic(topic)
	var r *Rejection
	if errors.As(err, &r) {
		r.Message = message
	}
	return err
}

func checkPermissive(topic, message string, cat Category) error {
	if len(message) > MaxPermissivePayload {
		return reject(topic, message, cat, fmt.Sprintf("payload exceeds %d bytes", MaxPermissivePayload))
	}
	if !utf8.ValidString(message) {
		return reject(topic, message, cat, "payload is not valid UTF-8")
	}
	for _, r := range message {
		if unicode.IsControl(r) {
			return reject(topic, message, cat, "payload contains control characters")
		}
	}
	return nil
}

func isNamespaceTypo(topic string) bool {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || !roomPrefixRE.MatchString(parts[0]) {
		return false
	}
	ns := parts[1]
	for _, reserved := range reservedNamespaces {
		if ns != reserved && strings.HasPrefix(ns, reserved) {
			return true
		}
	}
	return false
}

func reject(topic, message string, cat Category, reason string) error {
	return &Rejection{Topic: topic, Message: message, Category: cat, Reason: reason}
}

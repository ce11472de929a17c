package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// ErrInvalidScene is matched by every *ValidationError.
var ErrInvalidScene = errors.New("invalid scene")

// ValidationError collects every structural problem found in a scene.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid scene: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid scene: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidScene
}

type rawScene struct {
	SceneID      *string             `json:"sceneId"`
	Description  string              `json:"description"`
	Version      json.RawMessage     `json:"version"`
	InitialState *string             `json:"initialState"`
	States       map[string]rawState `json:"states"`
	GlobalEvents []rawTransition     `json:"globalEvents"`
}

type rawState struct {
	Description string             `json:"description"`
	OnEnter     []rawAction        `json:"onEnter"`
	OnExit      []rawAction        `json:"onExit"`
	Timeline    []rawTimelineEntry `json:"timeline"`
	Transitions []rawTransition    `json:"transitions"`
}

type rawAction struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
	Retain  bool            `json:"retain"`
}

// rawTimelineEntry holds either a single inline action or an action group.
type rawTimelineEntry struct {
	At      *float64    `json:"at"`
	Actions []rawAction `json:"actions"`
	rawAction
}

type rawTransition struct {
	Type    string          `json:"type"`
	Goto    string          `json:"goto"`
	Delay   *float64        `json:"delay"`
	Target  string          `json:"target"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// LoadScene parses and validates a scene definition. Comments and
// trailing commas are accepted.
func LoadScene(data []byte) (*Scene, error) {
	var raw rawScene
	normalized := jsonc.ToJSON(data)
	dec := json.NewDecoder(bytes.NewReader(normalized))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("malformed JSON: %v", err)}}
	}

	v := &sceneValidator{}
	scene := v.build(&raw)
	for _, name := range duplicateStateNames(normalized) {
		v.addf("states.%s: state is defined more than once", name)
	}
	if len(v.problems) > 0 {
		return nil, &ValidationError{Problems: v.problems}
	}
	return scene, nil
}

// LoadSceneFile reads and loads a scene file.
func LoadSceneFile(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	scene, err := LoadScene(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scene, nil
}

type sceneValidator struct {
	problems []string
}

func (v *sceneValidator) addf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *sceneValidator) build(raw *rawScene) *Scene {
	scene := &Scene{
		Description: raw.Description,
		Version:     scalarText(raw.Version),
		States:      make(map[string]*State, len(raw.States)),
	}

	if raw.SceneID == nil || *raw.SceneID == "" {
		v.addf("sceneId is required")
	} else {
		scene.ID = *raw.SceneID
	}

	if raw.States == nil {
		v.addf("states is required")
	} else if len(raw.States) == 0 {
		v.addf("states must define at least one state")
	}

	for name, rs := range raw.States {
		if name == EndState {
			v.addf("states.%s: %s is reserved for the terminal marker", name, EndState)
			continue
		}
		scene.States[name] = v.buildState(name, rs)
	}

	switch {
	case raw.InitialState == nil || *raw.InitialState == "":
		v.addf("initialState is required")
	case scene.States[*raw.InitialState] == nil:
		v.addf("initialState %q is not a defined state", *raw.InitialState)
		scene.InitialState = *raw.InitialState
	default:
		scene.InitialState = *raw.InitialState
	}

	for i, rt := range raw.GlobalEvents {
		scene.GlobalEvents = append(scene.GlobalEvents, v.buildTransition(fmt.Sprintf("globalEvents[%d]", i), rt))
	}

	// goto targets can only be checked once every state is known.
	for _, name := range scene.StateNames() {
		for i, t := range scene.States[name].Transitions {
			v.checkGoto(fmt.Sprintf("states.%s.transitions[%d]", name, i), t.Goto, scene)
		}
	}
	for i, t := range scene.GlobalEvents {
		v.checkGoto(fmt.Sprintf("globalEvents[%d]", i), t.Goto, scene)
	}

	return scene
}

func (v *sceneValidator) buildState(name string, rs rawState) *State {
	st := &State{Name: name, Description: rs.Description}
	path := "states." + name

	for i, ra := range rs.OnEnter {
		st.OnEnter = append(st.OnEnter, v.buildAction(fmt.Sprintf("%s.onEnter[%d]", path, i), ra))
	}
	for i, ra := range rs.OnExit {
		st.OnExit = append(st.OnExit, v.buildAction(fmt.Sprintf("%s.onExit[%d]", path, i), ra))
	}

	for i, re := range rs.Timeline {
		p := fmt.Sprintf("%s.timeline[%d]", path, i)
		if re.At == nil {
			v.addf("%s: at is required", p)
			continue
		}
		at, ok := seconds(*re.At)
		if !ok {
			v.addf("%s: at must be a finite number >= 0", p)
			continue
		}

		switch {
		case len(re.Actions) > 0 && re.Action != "":
			v.addf("%s: use either action or actions, not both", p)
		case len(re.Actions) > 0:
			for j, ra := range re.Actions {
				a := v.buildAction(fmt.Sprintf("%s.actions[%d]", p, j), ra)
				st.Timeline = append(st.Timeline, TimelineEntry{At: at, Action: a})
			}
		default:
			a := v.buildAction(p, re.rawAction)
			st.Timeline = append(st.Timeline, TimelineEntry{At: at, Action: a})
		}
	}

	for i, rt := range rs.Transitions {
		st.Transitions = append(st.Transitions, v.buildTransition(fmt.Sprintf("%s.transitions[%d]", path, i), rt))
	}
	return st
}

func (v *sceneValidator) buildAction(path string, ra rawAction) Action {
	a := Action{Kind: ActionKind(ra.Action), Topic: ra.Topic, Retain: ra.Retain}
	if !a.Kind.valid() {
		v.addf("%s: unknown action %q", path, ra.Action)
		return a
	}

	msg, scalar, present, err := messageText(ra.Message)
	switch {
	case err != nil:
		v.addf("%s: %v", path, err)
	case !present:
		v.addf("%s: message is required", path)
	case a.Kind != ActionDevice && strings.TrimSpace(msg) == "":
		v.addf("%s: %s command must not be empty", path, a.Kind)
	}
	a.Message = msg
	a.Scalar = scalar && a.Kind == ActionDevice

	if a.Kind == ActionDevice && a.Topic == "" {
		v.addf("%s: topic is required for mqtt actions", path)
	}
	return a
}

func (v *sceneValidator) buildTransition(path string, rt rawTransition) Transition {
	t := Transition{Kind: TransitionKind(rt.Type), Goto: rt.Goto, Target: rt.Target, Topic: rt.Topic}
	if !t.Kind.valid() {
		v.addf("%s: unknown transition type %q", path, rt.Type)
		return t
	}

	switch t.Kind {
	case TransitionTimeout:
		if rt.Delay == nil {
			v.addf("%s: delay is required for timeout", path)
			break
		}
		d, ok := seconds(*rt.Delay)
		if !ok {
			v.addf("%s: delay must be a finite number >= 0", path)
		}
		t.Delay = d
	case TransitionAudio, TransitionVideo:
		if t.Target == "" {
			v.addf("%s: target is required for %s", path, t.Kind)
		}
	case TransitionMQTT:
		if t.Topic == "" {
			v.addf("%s: topic is required for mqttMessage", path)
		}
		msg, _, present, err := messageText(rt.Message)
		if err != nil {
			v.addf("%s: %v", path, err)
		} else if !present {
			v.addf("%s: message is required for mqttMessage", path)
		}
		t.Message = msg
	}
	return t
}

// duplicateStateNames walks the top-level "states" object token by token;
// decoding into a map would silently keep the last definition.
func duplicateStateNames(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil
		}
		if key == "states" {
			return duplicateKeys(dec)
		}
		if err := skipValue(dec); err != nil {
			return nil
		}
	}
	return nil
}

func duplicateKeys(dec *json.Decoder) []string {
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	seen := make(map[string]int)
	var dups []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return dups
		}
		name, _ := tok.(string)
		seen[name]++
		if seen[name] == 2 {
			dups = append(dups, name)
		}
		if err := skipValue(dec); err != nil {
			return dups
		}
	}
	return dups
}

func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
		if depth == 0 {
			return nil
		}
	}
}

func (v *sceneValidator) checkGoto(path, target string, scene *Scene) {
	switch {
	case target == "":
		v.addf("%s: goto is required", path)
	case target == EndState:
	case scene.States[target] == nil:
		v.addf("%s: goto %q is not a defined state", path, target)
	}
}

// messageText accepts a JSON string, number or boolean. Numbers and
// booleans are carried as their JSON text and reported as scalar. An absent
// or null message is not present.
func messageText(raw json.RawMessage) (text string, scalar, present bool, err error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false, false, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, false, true, nil
	}
	var f float64
	var b bool
	if json.Unmarshal(raw, &f) == nil || json.Unmarshal(raw, &b) == nil {
		return trimmed, true, true, nil
	}
	return "", false, true, fmt.Errorf("message must be a string, number or boolean")
}

func scalarText(raw json.RawMessage) string {
	s, _, _, err := messageText(raw)
	if err != nil {
		return ""
	}
	return s
}

func seconds(f float64) (time.Duration, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}

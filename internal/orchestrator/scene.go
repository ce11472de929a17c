package orchestrator

import (
	"sort"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/contract"
	"github.com/AaronLay10/SentientRoom/internal/media"
)

// EndState is the reserved terminal goto target. It is never a key of
// Scene.States.
const EndState = "END"

// ActionKind is the closed set of things an action can drive.
type ActionKind string

const (
	ActionDevice ActionKind = "mqtt"
	ActionAudio  ActionKind = "audio"
	ActionVideo  ActionKind = "video"
)

func (k ActionKind) valid() bool {
	switch k {
	case ActionDevice, ActionAudio, ActionVideo:
		return true
	}
	return false
}

// Action is one side effect. Device actions carry a topic; audio and video
// actions carry only the command string in Message.
type Action struct {
	Kind    ActionKind
	Topic   string
	Message string
	Retain  bool
	// Scalar marks a device message authored as a JSON number or boolean.
	// Message then holds its JSON text and any payload grammar is waived.
	Scalar bool
}

// checkContract applies the command contract to a device action.
func (a Action) checkContract() error {
	if a.Scalar {
		return contract.ValidateScalar(a.Topic, a.Message)
	}
	return contract.Validate(a.Topic, a.Message)
}

// TimelineEntry fires Action At after the owning state was entered.
type TimelineEntry struct {
	At     time.Duration
	Action Action
}

// TransitionKind is the closed set of exit conditions.
type TransitionKind string

const (
	TransitionTimeout TransitionKind = "timeout"
	TransitionAudio   TransitionKind = "audioEnd"
	TransitionVideo   TransitionKind = "videoEnd"
	TransitionMQTT    TransitionKind = "mqttMessage"
	TransitionAlways  TransitionKind = "always"
)

func (k TransitionKind) valid() bool {
	switch k {
	case TransitionTimeout, TransitionAudio, TransitionVideo, TransitionMQTT, TransitionAlways:
		return true
	}
	return false
}

// rank orders kinds that become true in the same scheduling tick.
func (k TransitionKind) rank() int {
	switch k {
	case TransitionAlways:
		return 0
	case TransitionTimeout:
		return 1
	case TransitionAudio, TransitionVideo:
		return 2
	case TransitionMQTT:
		return 3
	}
	return 4
}

// Transition guards an exit from a state. Which fields are meaningful
// depends on Kind: Delay for timeout, Target for audioEnd/videoEnd,
// Topic and Message for mqttMessage.
type Transition struct {
	Kind    TransitionKind
	Goto    string
	Delay   time.Duration
	Target  string
	Topic   string
	Message string
}

// immediate reports whether the transition is already true when armed.
func (t Transition) immediate() bool {
	return t.Kind == TransitionAlways || (t.Kind == TransitionTimeout && t.Delay <= 0)
}

type State struct {
	Name        string
	Description string
	OnEnter     []Action
	OnExit      []Action
	Timeline    []TimelineEntry
	Transitions []Transition
}

// Scene is an immutable, validated scene definition.
type Scene struct {
	ID           string
	Description  string
	Version      string
	InitialState string
	States       map[string]*State
	// GlobalEvents are parsed and checked but never armed.
	GlobalEvents []Transition
}

// StateNames returns the state names in lexical order.
func (s *Scene) StateNames() []string {
	names := make([]string, 0, len(s.States))
	for name := range s.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Actions calls fn for every action in the scene, timeline entries included.
func (s *Scene) Actions(fn func(state string, a Action)) {
	for _, name := range s.StateNames() {
		st := s.States[name]
		for _, a := range st.OnEnter {
			fn(name, a)
		}
		for _, e := range st.Timeline {
			fn(name, e.Action)
		}
		for _, a := range st.OnExit {
			fn(name, a)
		}
	}
}

// EffectFiles lists the short-effect audio files the scene plays.
func (s *Scene) EffectFiles() []string {
	var cmds []string
	s.Actions(func(_ string, a Action) {
		if a.Kind == ActionAudio {
			cmds = append(cmds, a.Message)
		}
	})
	return media.EffectFiles(cmds)
}

// ContractProblems runs every device action through the command contract.
// A scene with problems still loads; the offending actions are dropped at
// dispatch time.
func (s *Scene) ContractProblems() []error {
	var out []error
	s.Actions(func(_ string, a Action) {
		if a.Kind != ActionDevice {
			return
		}
		if err := a.checkContract(); err != nil {
			out = append(out, err)
		}
	})
	return out
}

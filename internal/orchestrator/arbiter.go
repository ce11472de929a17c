package orchestrator

import (
	"sort"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/media"
)

// Candidate is a transition whose condition has become true.
type Candidate struct {
	Index      int
	Transition Transition
}

// Arbiter watches the exit conditions of the current visit. It keeps one
// timer per timeout transition and evaluates the passive predicates
// (media end, bus message) on demand. Like Timeline it is only touched
// from the machine's drain loop.
type Arbiter struct {
	clock Clock
	post  func(machineEvent)

	visit       uint64
	armed       bool
	transitions []Transition
	timers      []Timer
}

func newArbiter(clock Clock, post func(machineEvent)) *Arbiter {
	return &Arbiter{clock: clock, post: post}
}

// Arm starts watching transitions for visit. Conditions true at arm time
// (always, zero timeouts) are returned instead of being scheduled.
func (a *Arbiter) Arm(visit uint64, anchor time.Time, transitions []Transition) (Handle, []Candidate) {
	a.stopTimers()
	a.visit = visit
	a.armed = true
	a.transitions = transitions

	var immediate []Candidate
	now := a.clock.Now()
	for i, t := range transitions {
		if t.immediate() {
			immediate = append(immediate, Candidate{Index: i, Transition: t})
			continue
		}
		if t.Kind != TransitionTimeout {
			continue
		}
		delay := anchor.Add(t.Delay).Sub(now)
		if delay < 0 {
			delay = 0
		}
		index := i
		a.timers = append(a.timers, a.clock.AfterFunc(delay, func() {
			a.post(timeoutFired{visit: visit, index: index})
		}))
	}
	return Handle(visit), immediate
}

// Cancel disarms every watcher of the arming h.
func (a *Arbiter) Cancel(h Handle) {
	if uint64(h) != a.visit {
		return
	}
	a.stopTimers()
	a.armed = false
	a.transitions = nil
}

// Armed reports whether visit is the arming currently being watched.
func (a *Arbiter) Armed(visit uint64) bool {
	return a.armed && a.visit == visit
}

// MatchTimeout returns the timeout transition at index, if still armed.
func (a *Arbiter) MatchTimeout(index int) []Candidate {
	if !a.armed || index < 0 || index >= len(a.transitions) {
		return nil
	}
	t := a.transitions[index]
	if t.Kind != TransitionTimeout {
		return nil
	}
	return []Candidate{{Index: index, Transition: t}}
}

// MatchMedia returns the audioEnd or videoEnd transitions waiting for file.
func (a *Arbiter) MatchMedia(kind media.Kind, file string) []Candidate {
	want := TransitionAudio
	if kind == media.KindVideo {
		want = TransitionVideo
	}
	return a.match(func(t Transition) bool {
		return t.Kind == want && t.Target == file
	})
}

// MatchBus returns the mqttMessage transitions equal to (topic, message).
func (a *Arbiter) MatchBus(topic, message string) []Candidate {
	return a.match(func(t Transition) bool {
		return t.Kind == TransitionMQTT && t.Topic == topic && t.Message == message
	})
}

func (a *Arbiter) match(pred func(Transition) bool) []Candidate {
	if !a.armed {
		return nil
	}
	var out []Candidate
	for i, t := range a.transitions {
		if pred(t) {
			out = append(out, Candidate{Index: i, Transition: t})
		}
	}
	return out
}

func (a *Arbiter) stopTimers() {
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

// Pick chooses the winner among candidates that became true together:
// lowest kind rank first, then declaration order.
func Pick(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Transition.Kind.rank(), sorted[j].Transition.Kind.rank()
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted[0], true
}

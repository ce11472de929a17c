package orchestrator

import "time"

// Handle identifies one arming of the timeline or the arbiter.
type Handle uint64

// Timeline schedules a state's timeline entries relative to its entry time.
// Arm and Cancel run inside the machine's drain loop; fired timers only post
// an event back to it.
type Timeline struct {
	clock  Clock
	post   func(machineEvent)
	visit  uint64
	timers []Timer
}

func newTimeline(clock Clock, post func(machineEvent)) *Timeline {
	return &Timeline{clock: clock, post: post}
}

// Arm schedules every entry at anchor+At. Entries already due are not
// scheduled; their indices are returned for the caller to run in order.
func (t *Timeline) Arm(visit uint64, anchor time.Time, entries []TimelineEntry) (Handle, []int) {
	t.stopAll()
	t.visit = visit

	var due []int
	now := t.clock.Now()
	for i, e := range entries {
		delay := anchor.Add(e.At).Sub(now)
		if delay <= 0 {
			due = append(due, i)
			continue
		}
		index := i
		t.timers = append(t.timers, t.clock.AfterFunc(delay, func() {
			t.post(timelineFired{visit: visit, index: index})
		}))
	}
	return Handle(visit), due
}

// Cancel stops every outstanding timer of the arming h. Timers that have
// already fired are left to the machine's visit check.
func (t *Timeline) Cancel(h Handle) {
	if uint64(h) != t.visit {
		return
	}
	t.stopAll()
}

func (t *Timeline) stopAll() {
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = nil
}

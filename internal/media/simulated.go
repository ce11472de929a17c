package media

import (
	"context"
	"sync"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/events"
)

// Simulated stands in for a playback engine. Every command is recorded as
// an action.simulated event; when PlayFor is set, playback commands report
// completion after that long.
type Simulated struct {
	kind    Kind
	playFor time.Duration
	ended   EndedFunc

	mu       sync.Mutex
	commands []string
	timers   map[string]*time.Timer
}

// NewSimulatedAudio returns a simulated audio player.
func NewSimulatedAudio(playFor time.Duration, ended EndedFunc) *Simulated {
	return newSimulated(KindAudio, playFor, ended)
}

// NewSimulatedVideo returns a simulated video player.
func NewSimulatedVideo(playFor time.Duration, ended EndedFunc) *Simulated {
	return newSimulated(KindVideo, playFor, ended)
}

func newSimulated(kind Kind, playFor time.Duration, ended EndedFunc) *Simulated {
	return &Simulated{
		kind:    kind,
		playFor: playFor,
		ended:   ended,
		timers:  make(map[string]*time.Timer),
	}
}

func (s *Simulated) Command(cmd string) error {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	events.Emit("info", "action.simulated", "", map[string]interface{}{
		"collaborator": string(s.kind),
		"command":      cmd,
	})

	if s.playFor <= 0 || s.ended == nil {
		return nil
	}

	var file string
	var ok bool
	if s.kind == KindAudio {
		file, ok = AudioFile(cmd)
	} else {
		file, ok = VideoFile(cmd)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	if t, running := s.timers[file]; running {
		t.Stop()
	}
	s.timers[file] = time.AfterFunc(s.playFor, func() {
		s.mu.Lock()
		delete(s.timers, file)
		s.mu.Unlock()
		s.ended(s.kind, file)
	})
	s.mu.Unlock()
	return nil
}

// Preload records the request and returns immediately.
func (s *Simulated) Preload(ctx context.Context, files []string) error {
	events.Emit("info", "action.simulated", "preload", map[string]interface{}{
		"collaborator": string(s.kind),
		"files":        files,
	})
	return ctx.Err()
}

// Commands returns every command received so far.
func (s *Simulated) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Close cancels pending completion notices.
func (s *Simulated) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for file, t := range s.timers {
		t.Stop()
		delete(s.timers, file)
	}
}

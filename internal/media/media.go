// Package media holds the contracts of the audio and video collaborators
// and the command conventions the orchestrator relies on.
package media

import (
	"context"
	"path"
	"strings"
)

// Kind identifies which collaborator reported a finished file.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// AudioPlayer accepts audio command strings verbatim:
// PLAY:<file>[:<volume>], STOP[:<file>], PAUSE, RESUME, VOLUME:<v> or a
// bare file name. Completion is reported out of band.
type AudioPlayer interface {
	Command(cmd string) error
	// Preload warms the short-effect cache. It should return once ctx is done.
	Preload(ctx context.Context, files []string) error
}

// VideoPlayer accepts PLAY_VIDEO:<file>, STOP_VIDEO, PAUSE, RESUME,
// SEEK:<seconds> or a bare file name.
type VideoPlayer interface {
	Command(cmd string) error
}

// EndedFunc receives completion notices from a collaborator.
type EndedFunc func(kind Kind, file string)

const effectPrefix = "sfx_"

// IsEffect reports whether file follows the short-effect naming
// convention that the audio player loads into memory.
func IsEffect(file string) bool {
	return strings.HasPrefix(strings.ToLower(path.Base(file)), effectPrefix)
}

// AudioFile returns the file an audio command plays, if any.
func AudioFile(cmd string) (string, bool) {
	c := strings.TrimSpace(cmd)
	switch {
	case c == "":
		return "", false
	case strings.HasPrefix(c, "PLAY:"):
		file := strings.SplitN(c[len("PLAY:"):], ":", 2)[0]
		return file, file != ""
	case strings.EqualFold(c, "STOP"), strings.HasPrefix(c, "STOP:"),
		c == "PAUSE", c == "RESUME", strings.HasPrefix(c, "VOLUME:"):
		return "", false
	}
	return c, true
}

// VideoFile returns the file a video command plays, if any.
func VideoFile(cmd string) (string, bool) {
	c := strings.TrimSpace(cmd)
	switch {
	case c == "":
		return "", false
	case strings.HasPrefix(c, "PLAY_VIDEO:"):
		file := c[len("PLAY_VIDEO:"):]
		return file, file != ""
	case c == "STOP_VIDEO", c == "PAUSE", c == "RESUME", strings.HasPrefix(c, "SEEK:"):
		return "", false
	}
	return c, true
}

// EffectFiles collects the distinct effect files played by the given audio
// commands, in first-seen order.
func EffectFiles(cmds []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, cmd := range cmds {
		file, ok := AudioFile(cmd)
		if !ok || !IsEffect(file) {
			continue
		}
		if _, dup := seen[file]; dup {
			continue
		}
		seen[file] = struct{}{}
		out = append(out, file)
	}
	return out
}

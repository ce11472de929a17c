// Package room turns scene triggers from the bus or the API into scene
// sessions on the orchestrator.
package room

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AaronLay10/SentientRoom/internal/contract"
	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
)

var (
	ErrInvalidSceneName = errors.New("scene name must be a plain scene file name")
	ErrNoDefaultScene   = errors.New("no default scene configured")
)

const startPayload = "START"

// Runner is the part of the orchestrator the controller drives.
type Runner interface {
	LoadFile(path string) (*orchestrator.Scene, error)
	Start(ctx context.Context, scene *orchestrator.Scene) (*orchestrator.Session, error)
	Active() bool
}

type Config struct {
	ScenesDir    string
	DefaultScene string
}

// Controller starts scenes from the room's scenes directory.
type Controller struct {
	runner Runner
	cfg    Config
}

func NewController(runner Runner, cfg Config) *Controller {
	return &Controller{runner: runner, cfg: cfg}
}

// StartDefault starts the configured default scene.
func (c *Controller) StartDefault(ctx context.Context) (*orchestrator.Session, error) {
	if c.cfg.DefaultScene == "" {
		return nil, ErrNoDefaultScene
	}
	return c.StartNamed(ctx, c.cfg.DefaultScene)
}

// StartNamed loads name from the scenes directory and starts it.
func (c *Controller) StartNamed(ctx context.Context, name string) (*orchestrator.Session, error) {
	path, err := c.scenePath(name)
	if err != nil {
		return nil, err
	}
	if c.runner.Active() {
		return nil, orchestrator.ErrSessionActive
	}
	scene, err := c.runner.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return c.runner.Start(ctx, scene)
}

// Scenes lists the scene files available to StartNamed.
func (c *Controller) Scenes() ([]string, error) {
	entries, err := os.ReadDir(c.cfg.ScenesDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isSceneFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// HandleTrigger reacts to a room<id>/scene or room<id>/start_scene message.
func (c *Controller) HandleTrigger(topic, payload string) {
	payload = strings.TrimSpace(payload)

	var err error
	switch contract.Classify(topic) {
	case contract.CategorySceneStart:
		if !strings.EqualFold(payload, startPayload) {
			return
		}
		if c.ignoreWhileActive(topic, payload) {
			return
		}
		_, err = c.StartDefault(context.Background())
	case contract.CategoryNamedScene:
		if c.ignoreWhileActive(topic, payload) {
			return
		}
		_, err = c.StartNamed(context.Background(), payload)
	default:
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrSessionActive):
		c.ignored(topic, payload)
	default:
		events.Emit("error", "system.error", "scene trigger failed", map[string]interface{}{
			"topic":   topic,
			"payload": payload,
			"error":   err.Error(),
		})
	}
}

func (c *Controller) ignoreWhileActive(topic, payload string) bool {
	if !c.runner.Active() {
		return false
	}
	c.ignored(topic, payload)
	return true
}

func (c *Controller) ignored(topic, payload string) {
	events.Emit("info", "scene.trigger_ignored", "a scene is already running", map[string]interface{}{
		"topic":   topic,
		"payload": payload,
	})
}

func (c *Controller) scenePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || !isSceneFile(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSceneName, name)
	}
	return filepath.Join(c.cfg.ScenesDir, name), nil
}

func isSceneFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".json" || ext == ".jsonc") && !strings.HasPrefix(name, ".")
}

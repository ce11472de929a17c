package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultUIPort              = 8080
	defaultBrokerURL           = "tcp://localhost:1883"
	defaultScenesDir           = "scenes"
	defaultScene               = "scene.json"
	defaultCacheWarmTimeout    = 5 * time.Second
	defaultFeedbackTimeout     = 2 * time.Second
	defaultDeviceTimeout       = 180 * time.Second
	defaultDeviceSweepInterval = 60 * time.Second
)

// RoomConfig is the parsed room.yaml.
type RoomConfig struct {
	Version int `yaml:"version"`
	Room    struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"room"`
	Network struct {
		UIPort int `yaml:"ui_port"`
	} `yaml:"network"`
	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
		Username string `yaml:"username"`
	} `yaml:"mqtt"`
	Scenes struct {
		Directory string `yaml:"directory"`
		Default   string `yaml:"default"`
	} `yaml:"scenes"`
	Timing struct {
		CacheWarmTimeout    time.Duration `yaml:"cache_warm_timeout"`
		FeedbackTimeout     time.Duration `yaml:"feedback_timeout"`
		DeviceTimeout       time.Duration `yaml:"device_timeout"`
		DeviceSweepInterval time.Duration `yaml:"device_sweep_interval"`
	} `yaml:"timing"`
	Postgres struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"postgres"`
	StopRunsOnExit *bool `yaml:"stop_runs_on_exit"`

	// baseDir is the directory room.yaml was read from; relative paths
	// resolve against it.
	baseDir string
}

func LoadRoomConfig(path string) (*RoomConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseRoomConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(path)
	return cfg, nil
}

// ParseRoomConfig decodes and checks room.yaml contents.
func ParseRoomConfig(b []byte) (*RoomConfig, error) {
	var cfg RoomConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported room.yaml version: %d", cfg.Version)
	}
	if cfg.Room.ID == "" {
		return nil, fmt.Errorf("room.id is required")
	}

	return &cfg, nil
}

// UIPort returns the configured UI port, defaulting to 8080 if not set.
func (c *RoomConfig) UIPort() int {
	if c.Network.UIPort == 0 {
		return defaultUIPort
	}
	return c.Network.UIPort
}

// BrokerURL returns the broker from room.yaml, then MQTT_URL, then localhost.
func (c *RoomConfig) BrokerURL() string {
	if c.MQTT.Broker != "" {
		return c.MQTT.Broker
	}
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	return defaultBrokerURL
}

// ClientID defaults to rpi_room_<room id>, matching the deployed controllers.
func (c *RoomConfig) ClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return "rpi_room_" + c.Room.ID
}

// ScenesDir returns the absolute-or-config-relative scene directory.
func (c *RoomConfig) ScenesDir() string {
	dir := c.Scenes.Directory
	if dir == "" {
		dir = defaultScenesDir
	}
	if filepath.IsAbs(dir) || c.baseDir == "" {
		return dir
	}
	return filepath.Join(c.baseDir, dir)
}

func (c *RoomConfig) DefaultScene() string {
	if c.Scenes.Default == "" {
		return defaultScene
	}
	return c.Scenes.Default
}

func (c *RoomConfig) CacheWarmTimeout() time.Duration {
	return orDefault(c.Timing.CacheWarmTimeout, defaultCacheWarmTimeout)
}

func (c *RoomConfig) FeedbackTimeout() time.Duration {
	return orDefault(c.Timing.FeedbackTimeout, defaultFeedbackTimeout)
}

func (c *RoomConfig) DeviceTimeout() time.Duration {
	return orDefault(c.Timing.DeviceTimeout, defaultDeviceTimeout)
}

func (c *RoomConfig) DeviceSweepInterval() time.Duration {
	return orDefault(c.Timing.DeviceSweepInterval, defaultDeviceSweepInterval)
}

// StopOnExit reports whether an external stop runs the current state's
// onExit actions. Defaults to true.
func (c *RoomConfig) StopOnExit() bool {
	if c.StopRunsOnExit == nil {
		return true
	}
	return *c.StopRunsOnExit
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

package mqtt

import (
	"context"
	"time"
)

const defaultSweepInterval = 30 * time.Second

// Monitor periodically sweeps a DeviceRegistry for silent devices.
type Monitor struct {
	registry *DeviceRegistry
	interval time.Duration
}

// NewMonitor creates a monitor that sweeps registry every interval.
func NewMonitor(registry *DeviceRegistry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Monitor{
		registry: registry,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.registry.Sweep()
		}
	}
}

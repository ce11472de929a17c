package mqtt

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/events"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Device is a controller known from its devices/<id>/status topic.
type Device struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	LastUpdated time.Time `json:"last_updated"`
}

// Summary counts registered devices by status.
type Summary struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// DeviceRegistry tracks device liveness from status messages.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	timeout time.Duration
	now     func() time.Time
}

// NewDeviceRegistry creates an empty registry. Online devices that stay
// silent longer than timeout are marked offline by Sweep.
func NewDeviceRegistry(timeout time.Duration) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*Device),
		timeout: timeout,
		now:     time.Now,
	}
}

// UpdateStatus records a status message for deviceID.
//
// A retained "online" is stale broker state and never marks a device
// online; it only registers an unseen device as offline. Payloads other
// than online/offline leave the registry untouched.
func (r *DeviceRegistry) UpdateStatus(deviceID, status string, retained bool) {
	if deviceID == "" {
		return
	}
	raw := status
	status = strings.ToLower(strings.TrimSpace(status))
	if status != StatusOnline && status != StatusOffline {
		events.Emit("warn", "device.status_invalid", "unrecognised status payload", map[string]interface{}{
			"device_id": deviceID,
			"payload":   raw,
		})
		return
	}
	now := r.now()

	r.mu.Lock()
	dev, known := r.devices[deviceID]
	if retained && status == StatusOnline {
		if !known {
			r.devices[deviceID] = &Device{ID: deviceID, Status: StatusOffline, LastUpdated: now}
		}
		r.mu.Unlock()
		return
	}
	if !known {
		dev = &Device{ID: deviceID, Status: StatusOffline}
		r.devices[deviceID] = dev
	}
	prev := dev.Status
	dev.Status = status
	dev.LastUpdated = now
	r.mu.Unlock()

	if prev == status && known {
		return
	}
	switch status {
	case StatusOnline:
		events.Emit("info", "device.online", "", map[string]interface{}{
			"device_id": deviceID,
		})
	case StatusOffline:
		if known {
			events.Emit("warn", "device.offline", "", map[string]interface{}{
				"device_id": deviceID,
				"reason":    "reported",
			})
		}
	}
}

// Sweep marks online devices whose last update is older than the timeout
// as offline and returns their IDs.
func (r *DeviceRegistry) Sweep() []string {
	if r.timeout <= 0 {
		return nil
	}
	now := r.now()

	r.mu.Lock()
	var stale []*Device
	for _, dev := range r.devices {
		if dev.Status == StatusOnline && now.Sub(dev.LastUpdated) > r.timeout {
			dev.Status = StatusOffline
			cpy := *dev
			stale = append(stale, &cpy)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, dev := range stale {
		ids = append(ids, dev.ID)
		events.Emit("warn", "device.offline", "status timeout", map[string]interface{}{
			"device_id":   dev.ID,
			"reason":      "timeout",
			"last_seen":   dev.LastUpdated.Format(time.RFC3339),
			"timeout_sec": r.timeout.Seconds(),
		})
	}
	sort.Strings(ids)
	return ids
}

// Get returns a copy of a device.
func (r *DeviceRegistry) Get(deviceID string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	return *dev, true
}

// IsOnline reports whether deviceID is currently online.
func (r *DeviceRegistry) IsOnline(deviceID string) bool {
	dev, ok := r.Get(deviceID)
	return ok && dev.Status == StatusOnline
}

// All returns copies of all devices sorted by ID.
func (r *DeviceRegistry) All() []Device {
	r.mu.RLock()
	result := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		result = append(result, *dev)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Summary returns device counts by status.
func (r *DeviceRegistry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{Total: len(r.devices)}
	for _, dev := range r.devices {
		if dev.Status == StatusOnline {
			s.Online++
		} else {
			s.Offline++
		}
	}
	return s
}

// Clear removes all devices from the registry.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*Device)
}

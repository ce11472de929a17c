package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertSceneFailed         = "scene_failed"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	RoomName  string                 `json:"room_name"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AlertConfig holds alert configuration.
type AlertConfig struct {
	RoomName   string
	WebhookURL string
	// How long a dependency must be down before alerting.
	MQTTDelay     time.Duration
	PostgresDelay time.Duration
}

// AlertConfigFromEnv reads SENTIENT_ALERT_WEBHOOK_URL and the optional
// SENTIENT_MQTT_ALERT_DELAY / SENTIENT_POSTGRES_ALERT_DELAY durations.
func AlertConfigFromEnv(roomName string) AlertConfig {
	cfg := AlertConfig{
		RoomName:      roomName,
		WebhookURL:    os.Getenv("SENTIENT_ALERT_WEBHOOK_URL"),
		MQTTDelay:     30 * time.Second,
		PostgresDelay: 5 * time.Second,
	}
	if d, err := time.ParseDuration(os.Getenv("SENTIENT_MQTT_ALERT_DELAY")); err == nil {
		cfg.MQTTDelay = d
	}
	if d, err := time.ParseDuration(os.Getenv("SENTIENT_POSTGRES_ALERT_DELAY")); err == nil {
		cfg.PostgresDelay = d
	}
	return cfg
}

type outage struct {
	since   time.Time
	alerted bool
}

// Alerter posts webhook alerts when the bus or event store stays down and
// when a scene session fails.
type Alerter struct {
	cfg   AlertConfig
	bus   Connectivity
	store EventStore

	mu       sync.Mutex
	mqtt     outage
	postgres outage

	now  func() time.Time
	send func(AlertPayload)
}

func NewAlerter(cfg AlertConfig, bus Connectivity, store EventStore) *Alerter {
	a := &Alerter{cfg: cfg, bus: bus, store: store, now: time.Now}
	a.send = a.post
	if cfg.WebhookURL != "" {
		log.Printf("Alerts enabled: webhook URL configured (mqtt_delay=%s, pg_delay=%s)", cfg.MQTTDelay, cfg.PostgresDelay)
	}
	return a
}

// Run checks dependencies every interval until ctx is cancelled.
func (a *Alerter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Check()
		}
	}
}

// Check samples dependency state once.
func (a *Alerter) Check() {
	if a.bus != nil {
		a.track(&a.mqtt, a.bus.IsConnected(), a.cfg.MQTTDelay,
			AlertMQTTDisconnected, SeverityWarning, "MQTT broker disconnected", "MQTT connection restored")
	}
	if a.store != nil {
		a.track(&a.postgres, a.store.Ping() == nil, a.cfg.PostgresDelay,
			AlertPostgresUnavailable, SeverityCritical, "PostgreSQL unavailable", "PostgreSQL connection restored")
	}
}

// SceneEnded raises an alert when a session ends in failure.
func (a *Alerter) SceneEnded(st orchestrator.Status) {
	if st.Outcome != string(orchestrator.OutcomeFailed) {
		return
	}
	a.alert(AlertSceneFailed, SeverityCritical, "scene session failed", map[string]interface{}{
		"session_id":    st.SessionID,
		"scene_id":      st.SceneID,
		"current_state": st.CurrentState,
		"reason":        st.StopReason,
	})
}

func (a *Alerter) track(o *outage, up bool, delay time.Duration, event, severity, downMsg, upMsg string) {
	now := a.now()

	a.mu.Lock()
	if up {
		recovered := o.alerted
		*o = outage{}
		a.mu.Unlock()
		if recovered {
			a.alert(event, SeverityInfo, upMsg, map[string]interface{}{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		return
	}
	if o.since.IsZero() {
		o.since = now
	}
	down := now.Sub(o.since)
	fire := !o.alerted && down >= delay
	if fire {
		o.alerted = true
	}
	since := o.since
	a.mu.Unlock()

	if fire {
		a.alert(event, severity, downMsg, map[string]interface{}{
			"disconnected_since":   since.UTC().Format(time.RFC3339),
			"disconnected_seconds": int(down.Seconds()),
		})
	}
}

func (a *Alerter) alert(event, severity, message string, details map[string]interface{}) {
	roomName := a.cfg.RoomName
	if roomName == "" {
		roomName = "unknown"
	}
	a.send(AlertPayload{
		RoomName:  roomName,
		Event:     event,
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	})
}

// post delivers the payload in the background. Without a webhook the
// alert is only logged.
func (a *Alerter) post(payload AlertPayload) {
	if a.cfg.WebhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", payload.Event, payload.Severity, payload.Message, payload.Details)
		return
	}
	go sendWebhook(a.cfg.WebhookURL, payload)
}

func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}

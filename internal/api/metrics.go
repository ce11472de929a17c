package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/AaronLay10/SentientRoom/internal/events"
	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
	"github.com/AaronLay10/SentientRoom/internal/version"
)

// handleMetrics returns Prometheus-compatible metrics in text format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	roomName := s.deps.RoomName
	if roomName == "" {
		roomName = s.deps.RoomID
	}

	status := s.deps.Runner.Status()
	sceneActive := boolGauge(status.Phase != orchestrator.PhaseIdle.String())

	mqttConnected := 0
	if s.deps.Bus != nil {
		mqttConnected = boolGauge(s.deps.Bus.IsConnected())
	}
	postgresConnected := 0
	if s.deps.Store != nil {
		postgresConnected = boolGauge(s.deps.Store.Ping() == nil)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`room=%q,instance=%q,version=%q`, roomName, hostname, version.Version)

	writeMetric("sentient_uptime_seconds", "gauge",
		"Number of seconds since the orchestrator started", time.Since(s.started).Seconds(), labels)
	writeMetric("sentient_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric("sentient_ws_clients", "gauge",
		"Number of active WebSocket client connections", events.SubscriberCount(), labels)
	writeMetric("sentient_ws_events_dropped_total", "counter",
		"Live events skipped because a WebSocket client fell behind", events.DroppedCount(), labels)
	writeMetric("sentient_mqtt_connected", "gauge",
		"Whether MQTT broker is connected (1) or not (0)", mqttConnected, labels)
	writeMetric("sentient_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", postgresConnected, labels)
	writeMetric("sentient_scene_active", "gauge",
		"Whether a scene session is running (1) or not (0)", sceneActive, labels)
	writeMetric("sentient_scene_states_completed", "gauge",
		"States completed in the current or last scene session", status.StatesCompleted, labels)
	writeMetric("sentient_scene_elapsed_seconds", "gauge",
		"Seconds since the current or last scene session started", status.ElapsedSeconds, labels)

	if s.deps.Devices != nil {
		sum := s.deps.Devices.Summary()
		writeMetric("sentient_devices_total", "gauge",
			"Devices seen on the status topics", sum.Total, labels)
		writeMetric("sentient_devices_online", "gauge",
			"Devices currently reporting online", sum.Online, labels)
	}
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

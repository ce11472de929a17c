// Package postgres persists the room's event log so scene sessions can be
// reviewed after the fact.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/SentientRoom/internal/config"
)

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 10000
)

const schema = `
	CREATE TABLE IF NOT EXISTS scene_events (
		event_id   BIGSERIAL PRIMARY KEY,
		ts         TIMESTAMPTZ NOT NULL,
		level      TEXT NOT NULL,
		event      TEXT NOT NULL,
		msg        TEXT,
		fields     JSONB,
		room_id    TEXT NOT NULL,
		session_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_scene_events_ts ON scene_events(ts DESC);
	CREATE INDEX IF NOT EXISTS idx_scene_events_room ON scene_events(room_id);
	CREATE INDEX IF NOT EXISTS idx_scene_events_session ON scene_events(session_id);
`

const eventColumns = `event_id, ts, level, event, msg, fields, room_id, session_id`

// EventRow is one persisted event.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	RoomID    string                 `json:"room_id"`
	SessionID *string                `json:"session_id,omitempty"`
}

// SessionRow summarizes one scene session. Outcome is empty while the
// session has not ended (or ended without a terminal event, e.g. a crash).
type SessionRow struct {
	SessionID string    `json:"session_id"`
	SceneID   string    `json:"scene_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	LastAt    time.Time `json:"last_event_at"`
	Events    int64     `json:"events"`
	Outcome   string    `json:"outcome,omitempty"`
}

// Client is a room-scoped event store.
type Client struct {
	db     *sql.DB
	roomID string
}

// ConnString builds a lib/pq connection string from the PG* environment
// variables. PGPASSWORD may come from PGPASSWORD_FILE.
func ConnString() (string, error) {
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return "", err
	}

	parts := []string{
		"host=" + envOr("PGHOST", "127.0.0.1"),
		"port=" + envOr("PGPORT", "5432"),
		"user=" + envOr("PGUSER", "sentient"),
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts,
		"dbname="+envOr("PGDATABASE", "sentient"),
		"sslmode="+envOr("PGSSLMODE", "disable"),
	)
	return strings.Join(parts, " "), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New connects and ensures the schema exists. The orchestrator treats an
// error as "run without persistence".
func New(roomID string) (*Client, error) {
	connStr, err := ConnString()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create scene_events table: %w", err)
	}

	return &Client{db: db, roomID: roomID}, nil
}

// Append inserts one event. Empty msg and sessionID are stored as NULL.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		fieldsJSON = b
	}

	_, err := c.db.Exec(
		`INSERT INTO scene_events (ts, level, event, msg, fields, room_id, session_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ts, level, event, nullable(msg), fieldsJSON, c.roomID, nullable(sessionID))
	return err
}

// Query returns the room's newest events first.
func (c *Client) Query(limit int) ([]EventRow, error) {
	return c.queryEvents(
		`SELECT `+eventColumns+` FROM scene_events
		 WHERE room_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`,
		c.roomID, clampLimit(limit))
}

// QuerySession returns one session's events in recording order.
func (c *Client) QuerySession(sessionID string, limit int) ([]EventRow, error) {
	return c.queryEvents(
		`SELECT `+eventColumns+` FROM scene_events
		 WHERE room_id = $1 AND session_id = $2
		 ORDER BY event_id ASC
		 LIMIT $3`,
		c.roomID, sessionID, clampLimit(limit))
}

// Sessions lists the room's scene sessions, most recent first.
func (c *Client) Sessions(limit int) ([]SessionRow, error) {
	rows, err := c.db.Query(
		`SELECT session_id,
		        MIN(fields->>'scene_id'),
		        MIN(ts),
		        MAX(ts),
		        COUNT(*),
		        (ARRAY_AGG(event ORDER BY event_id DESC)
		            FILTER (WHERE event IN ('scene.completed', 'scene.stopped', 'scene.failed')))[1]
		 FROM scene_events
		 WHERE room_id = $1 AND session_id IS NOT NULL
		 GROUP BY session_id
		 ORDER BY MIN(ts) DESC
		 LIMIT $2`,
		c.roomID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		var sceneID, terminal sql.NullString
		if err := rows.Scan(&s.SessionID, &sceneID, &s.StartedAt, &s.LastAt, &s.Events, &terminal); err != nil {
			return nil, err
		}
		s.SceneID = sceneID.String
		s.Outcome = outcomeOf(terminal.String)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) queryEvents(query string, args ...interface{}) ([]EventRow, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(rows *sql.Rows) (EventRow, error) {
	var e EventRow
	var fieldsJSON []byte
	var msg, sessionID sql.NullString

	if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.RoomID, &sessionID); err != nil {
		return e, err
	}
	if msg.Valid {
		e.Message = &msg.String
	}
	if sessionID.Valid {
		e.SessionID = &sessionID.String
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return e, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
	}
	return e, nil
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// outcomeOf maps a terminal scene event name to the session outcome.
func outcomeOf(event string) string {
	return strings.TrimPrefix(event, "scene.")
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	}
	return limit
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

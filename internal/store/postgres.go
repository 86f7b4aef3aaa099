package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/yksanjo/tinyguardian/internal/logger"
	"github.com/yksanjo/tinyguardian/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id             BIGSERIAL PRIMARY KEY,
	device_id      TEXT NOT NULL,
	topic          TEXT NOT NULL DEFAULT '',
	source_ip      TEXT NOT NULL DEFAULT '',
	user_name      TEXT NOT NULL DEFAULT '',
	raw_message    TEXT NOT NULL,
	event_ts       TIMESTAMPTZ NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL,
	threat_type    TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	explanation    TEXT NOT NULL DEFAULT '',
	recommendation TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL,
	severity       DOUBLE PRECISION NOT NULL,
	status         TEXT NOT NULL,
	fingerprint    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_device_idx ON alerts (device_id);
CREATE INDEX IF NOT EXISTS alerts_created_idx ON alerts (created_at);

CREATE TABLE IF NOT EXISTS events (
	id          BIGSERIAL PRIMARY KEY,
	device_id   TEXT NOT NULL,
	topic       TEXT NOT NULL DEFAULT '',
	source_ip   TEXT NOT NULL DEFAULT '',
	user_name   TEXT NOT NULL DEFAULT '',
	raw_message TEXT NOT NULL,
	event_ts    TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	device_id   TEXT PRIMARY KEY,
	last_seen   TIMESTAMPTZ NOT NULL,
	event_count BIGINT NOT NULL,
	status      TEXT NOT NULL
);
`

// PostgresStore persists alerts, events, and device aggregates in
// Postgres for deployments that need durable history.
type PostgresStore struct {
	db              *sql.DB
	insertAlertStmt *sql.Stmt
	insertEventStmt *sql.Stmt
	now             func() time.Time
}

// NewPostgresStore opens the database, applies the schema, and prepares
// hot-path statements.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	insertAlert, err := db.Prepare(`
		INSERT INTO alerts (device_id, topic, source_ip, user_name, raw_message, event_ts, received_at,
		                    threat_type, confidence, explanation, recommendation, source,
		                    severity, status, fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare alert insert: %w", err)
	}

	insertEvent, err := db.Prepare(`
		INSERT INTO events (device_id, topic, source_ip, user_name, raw_message, event_ts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		insertAlert.Close()
		db.Close()
		return nil, fmt.Errorf("prepare event insert: %w", err)
	}

	logger.Infof("Postgres store initialized")
	return &PostgresStore{
		db:              db,
		insertAlertStmt: insertAlert,
		insertEventStmt: insertEvent,
		now:             time.Now,
	}, nil
}

// AppendAlert persists an alert and returns its monotonic id.
func (s *PostgresStore) AppendAlert(ctx context.Context, alert *models.Alert) (int64, error) {
	status := alert.Status
	if status == "" {
		status = models.AlertNew
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var id int64
	err := s.insertAlertStmt.QueryRowContext(ctx,
		alert.Event.DeviceID, alert.Event.Topic, alert.Event.SourceIP, alert.Event.User,
		alert.Event.RawMessage, alert.Event.Timestamp, alert.Event.ReceivedAt,
		string(alert.Classification.ThreatType), alert.Classification.Confidence,
		alert.Classification.Explanation, alert.Classification.Recommendation,
		string(alert.Classification.Source),
		alert.Severity, string(status), alert.Fingerprint, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

// QueryAlerts returns matching alerts, most recent first.
func (s *PostgresStore) QueryAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	query := `
		SELECT id, device_id, topic, source_ip, user_name, raw_message, event_ts, received_at,
		       threat_type, confidence, explanation, recommendation, source,
		       severity, status, fingerprint, created_at
		FROM alerts`

	var args []interface{}
	var conditions []string
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = "+arg(filter.DeviceID))
	}
	if filter.SeverityMin > 0 {
		conditions = append(conditions, "severity >= "+arg(filter.SeverityMin))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = "+arg(string(filter.Status)))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.Since))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at <= "+arg(filter.Until))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY id DESC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			logger.Errorf("Failed to scan alert row: %v", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(rows *sql.Rows) (*models.Alert, error) {
	var a models.Alert
	var threatType, source, status string
	err := rows.Scan(
		&a.ID, &a.Event.DeviceID, &a.Event.Topic, &a.Event.SourceIP, &a.Event.User,
		&a.Event.RawMessage, &a.Event.Timestamp, &a.Event.ReceivedAt,
		&threatType, &a.Classification.Confidence,
		&a.Classification.Explanation, &a.Classification.Recommendation, &source,
		&a.Severity, &status, &a.Fingerprint, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Classification.ThreatType = models.ThreatType(threatType)
	a.Classification.Source = models.ClassificationSource(source)
	a.Status = models.AlertStatus(status)
	return &a, nil
}

// UpdateAlertStatus changes the review status of one alert.
func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, id int64, status models.AlertStatus) error {
	if !models.ValidAlertStatus(status) {
		return fmt.Errorf("invalid alert status: %s", status)
	}

	res, err := s.db.ExecContext(ctx, "UPDATE alerts SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordEvent inserts the event and upserts the device aggregate.
func (s *PostgresStore) RecordEvent(ctx context.Context, event *models.Event) error {
	if _, err := s.insertEventStmt.ExecContext(ctx,
		event.DeviceID, event.Topic, event.SourceIP, event.User,
		event.RawMessage, event.Timestamp, event.ReceivedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, last_seen, event_count, status)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			last_seen   = GREATEST(devices.last_seen, EXCLUDED.last_seen),
			event_count = devices.event_count + 1`,
		event.DeviceID, event.ReceivedAt, string(models.DeviceActive))
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, most recent first.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, topic, source_ip, user_name, raw_message, event_ts, received_at
		FROM events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.DeviceID, &e.Topic, &e.SourceIP, &e.User,
			&e.RawMessage, &e.Timestamp, &e.ReceivedAt); err != nil {
			logger.Errorf("Failed to scan event row: %v", err)
			continue
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ListDevices returns all known devices, marking stale ones idle.
func (s *PostgresStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_id, last_seen, event_count, status FROM devices ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var devices []*models.Device
	for rows.Next() {
		var d models.Device
		var status string
		if err := rows.Scan(&d.DeviceID, &d.LastSeen, &d.EventCount, &status); err != nil {
			logger.Errorf("Failed to scan device row: %v", err)
			continue
		}
		d.Status = models.DeviceStatus(status)
		if d.Status != models.DeviceBlocked && now.Sub(d.LastSeen) > idleAfter {
			d.Status = models.DeviceIdle
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// SetDeviceStatus marks a device, typically blocked by an operator.
func (s *PostgresStore) SetDeviceStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE devices SET status = $1 WHERE device_id = $2", string(status), deviceID)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates store contents.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByThreatType: make(map[models.ThreatType]int64),
		BySeverity:   make(map[string]int64),
		ByStatus:     make(map[models.AlertStatus]int64),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM events").Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM devices").Scan(&stats.Devices); err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT threat_type, status, severity FROM alerts")
	if err != nil {
		return nil, fmt.Errorf("query alert aggregates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var threatType, status string
		var sev float64
		if err := rows.Scan(&threatType, &status, &sev); err != nil {
			return nil, err
		}
		stats.TotalAlerts++
		stats.ByThreatType[models.ThreatType(threatType)]++
		stats.ByStatus[models.AlertStatus(status)]++
		stats.BySeverity[severityBand(sev)]++
	}
	return stats, rows.Err()
}

// Close releases prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	if s.insertAlertStmt != nil {
		s.insertAlertStmt.Close()
	}
	if s.insertEventStmt != nil {
		s.insertEventStmt.Close()
	}
	return s.db.Close()
}

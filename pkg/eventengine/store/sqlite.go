package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	engerrors "github.com/randalmurphal/eventengine/pkg/eventengine/errors"
	"github.com/randalmurphal/eventengine/pkg/eventengine/event"
)

// SQLiteBackend persists events to SQLite.
// It is suitable for single-process production use.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*SQLiteBackend)(nil)

const eventColumns = `id, event_type, source, severity, timestamp, subject, message, data, tags, related_events, processed`

// NewSQLiteBackend opens (or creates) the event database at path.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			source TEXT NOT NULL,
			severity TEXT NOT NULL,
			severity_rank INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			tags TEXT NOT NULL,
			related_events TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,
		`CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteBackend{db: db}, nil
}

// Put implements Backend.
func (s *SQLiteBackend) Put(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	tags, err := json.Marshal(evt.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	related, err := json.Marshal(evt.RelatedEvents)
	if err != nil {
		return fmt.Errorf("encode related events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, source, severity, severity_rank, timestamp,
			subject, message, data, tags, related_events, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			source = excluded.source,
			severity = excluded.severity,
			severity_rank = excluded.severity_rank,
			timestamp = excluded.timestamp,
			subject = excluded.subject,
			message = excluded.message,
			data = excluded.data,
			tags = excluded.tags,
			related_events = excluded.related_events,
			processed = excluded.processed
	`, evt.ID, string(evt.Type), string(evt.Source), evt.Severity.String(), int(evt.Severity),
		evt.Timestamp.UnixNano(), evt.Subject, evt.Message,
		string(data), string(tags), string(related), evt.Processed)
	if err != nil {
		return &engerrors.PersistenceError{Op: "put", Err: err}
	}
	return nil
}

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// Query implements Backend.
func (s *SQLiteBackend) Query(ctx context.Context, q Query) ([]*event.Event, error) {
	q = q.normalized()

	var (
		where []string
		args  []any
	)
	if len(q.Types) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if len(q.Sources) > 0 {
		where = append(where, "source IN ("+placeholders(len(q.Sources))+")")
		for _, src := range q.Sources {
			args = append(args, string(src))
		}
	}
	if !q.Start.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, q.End.UnixNano())
	}
	if q.MinSeverity > event.Debug {
		where = append(where, "severity_rank >= ?")
		args = append(args, int(q.MinSeverity))
	}
	if q.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, q.Subject)
	}

	stmt := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	stmt += ` ORDER BY timestamp DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &engerrors.PersistenceError{Op: "query", Err: err}
	}
	defer rows.Close()

	events := []*event.Event{}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, &engerrors.PersistenceError{Op: "query", Err: err}
	}
	return events, nil
}

// Stats implements Backend.
func (s *SQLiteBackend) Stats(ctx context.Context) (BackendStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return BackendStats{}, ErrClosed
	}

	stats := newBackendStats()
	var latest int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(timestamp), 0) FROM events`,
	).Scan(&stats.Total, &latest); err != nil {
		return BackendStats{}, &engerrors.PersistenceError{Op: "stats", Err: err}
	}
	if latest > 0 {
		stats.Latest = time.Unix(0, latest).UTC()
	}

	groups := []struct {
		column string
		dst    map[string]int
	}{
		{"event_type", stats.ByType},
		{"source", stats.BySource},
		{"severity", stats.BySeverity},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, g.dst); err != nil {
			return BackendStats{}, err
		}
	}
	return stats, nil
}

func (s *SQLiteBackend) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM events GROUP BY `+column)
	if err != nil {
		return &engerrors.PersistenceError{Op: "stats", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return &engerrors.PersistenceError{Op: "stats", Err: err}
		}
		dst[key] = n
	}
	return rows.Err()
}

// Trim implements Backend.
func (s *SQLiteBackend) Trim(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events
			ORDER BY timestamp DESC, id ASC
			LIMIT -1 OFFSET ?
		)
	`, max(keep, 0))
	if err != nil {
		return 0, &engerrors.PersistenceError{Op: "trim", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &engerrors.PersistenceError{Op: "trim", Err: err}
	}
	return int(n), nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent decodes one row. Rows whose enumerations or JSON columns do not
// decode are reported as DeserializationError.
func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		id, typ, source, severity string
		ts                        int64
		subject, message          string
		data, tags, related       string
		processed                 bool
	)
	if err := row.Scan(&id, &typ, &source, &severity, &ts, &subject, &message,
		&data, &tags, &related, &processed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &engerrors.PersistenceError{Op: "scan", Err: err}
	}

	evt := &event.Event{
		ID:        id,
		Timestamp: time.Unix(0, ts).UTC(),
		Subject:   subject,
		Message:   message,
		Processed: processed,
	}

	var err error
	if evt.Type, err = event.ParseType(typ); err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	if evt.Source, err = event.ParseSource(source); err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	if evt.Severity, err = event.ParseSeverity(severity); err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	if err := json.Unmarshal([]byte(data), &evt.Data); err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	if err := json.Unmarshal([]byte(tags), &evt.Tags); err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	if err := json.Unmarshal([]byte(related), &evt.RelatedEvents); err != nil {
		return nil, &engerrors.DeserializationError{ID: id, Err: err}
	}
	return evt, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

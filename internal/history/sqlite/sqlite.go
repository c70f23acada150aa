package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/llmos-dev/llmos-actions/internal/history"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// Entry is one stored row.
type Entry struct {
	Timestamp time.Time
	ActionID  string
	Seq       uint64
	Kind      schema.Kind
	Source    schema.Source
	Status    schema.Status
	Title     string
	Payload   json.RawMessage
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS action_history(
		timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		action_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT,
		payload TEXT
	);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS action_history_action_id ON action_history(action_id);`)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_history(timestamp, action_id, seq, kind, source, status, title, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), rec.ID, int64(rec.Seq), string(rec.Kind), string(rec.Source), string(rec.Status), rec.Title, string(payload))
	return err
}

// List returns the stored states of one action, oldest first.
func (s *Sink) List(ctx context.Context, actionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, action_id, seq, kind, source, status, title, payload
		FROM action_history WHERE action_id = ? ORDER BY rowid;`, actionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			seq                  int64
			kind, source, status string
			title, payload       sql.NullString
		)
		if err := rows.Scan(&e.Timestamp, &e.ActionID, &seq, &kind, &source, &status, &title, &payload); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Kind = schema.Kind(kind)
		e.Source = schema.Source(source)
		e.Status = schema.Status(status)
		e.Title = title.String
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

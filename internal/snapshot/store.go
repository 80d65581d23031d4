// Package snapshot persists conversation snapshots to SQLite so a runtime
// restart can restore dialogue state. Serialisation is deterministic: JSON
// object keys are emitted in sorted order, so identical conversations always
// produce identical rows.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Recorder receives query metrics. The observability package's Metrics
// satisfies it.
type Recorder interface {
	RecordSnapshotQuery(operation string, err error, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSnapshotQuery(string, error, time.Duration) {}

// Config configures the snapshot store.
type Config struct {
	// Path is the SQLite database file. Empty means in-memory.
	Path string

	Logger  *slog.Logger
	Metrics Recorder
}

// Store is a SQLite-backed conversation snapshot store.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time
}

// New opens (or creates) the snapshot database and ensures the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExecutionError, "open snapshot database", err)
	}

	s := &Store{db: db, logger: cfg.Logger, metrics: cfg.Metrics, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			preferences TEXT NOT NULL,
			context TEXT NOT NULL,
			messages TEXT NOT NULL,
			active_tools TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return errcode.Wrap(errcode.ExecutionError, "create conversations table", err)
	}

	_, err = s.db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity_at)")
	if err != nil {
		return errcode.Wrap(errcode.ExecutionError, "create activity index", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts one conversation snapshot.
func (s *Store) Save(ctx context.Context, conv *models.Conversation) (err error) {
	start := s.now()
	defer func() { s.metrics.RecordSnapshotQuery("save", err, s.now().Sub(start)) }()

	prefs, err := json.Marshal(conv.Preferences)
	if err != nil {
		return errcode.Wrap(errcode.InvalidJSON, "marshal preferences", err)
	}
	// Go's JSON encoder sorts map keys, so the context column is
	// deterministic for a given context.
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return errcode.Wrap(errcode.InvalidJSON, "marshal context", err)
	}
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return errcode.Wrap(errcode.InvalidJSON, "marshal messages", err)
	}
	activeTools, err := json.Marshal(conv.ActiveTools)
	if err != nil {
		return errcode.Wrap(errcode.InvalidJSON, "marshal active tools", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversations
			(id, preferences, context, messages, active_tools, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		string(prefs),
		string(contextJSON),
		string(messages),
		string(activeTools),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.LastActivityAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errcode.Wrap(errcode.ExecutionError, "save snapshot", err)
	}
	return nil
}

// Load restores one conversation snapshot.
func (s *Store) Load(ctx context.Context, id string) (conv *models.Conversation, err error) {
	start := s.now()
	defer func() { s.metrics.RecordSnapshotQuery("load", err, s.now().Sub(start)) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT preferences, context, messages, active_tools, created_at, last_activity_at
		FROM conversations WHERE id = ?
	`, id)

	var prefs, contextJSON, messages, activeTools, createdAt, lastActivity string
	if scanErr := row.Scan(&prefs, &contextJSON, &messages, &activeTools, &createdAt, &lastActivity); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = errcode.Newf(errcode.NotFound, "no snapshot for conversation %s", id)
			return nil, err
		}
		err = errcode.Wrap(errcode.ExecutionError, "load snapshot", scanErr)
		return nil, err
	}

	conv = &models.Conversation{ID: id}
	if err = unmarshalColumn(prefs, &conv.Preferences); err != nil {
		return nil, err
	}
	if err = unmarshalColumn(contextJSON, &conv.Context); err != nil {
		return nil, err
	}
	if err = unmarshalColumn(messages, &conv.Messages); err != nil {
		return nil, err
	}
	if err = unmarshalColumn(activeTools, &conv.ActiveTools); err != nil {
		return nil, err
	}
	if conv.Context == nil {
		conv.Context = make(map[string]any)
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.LastActivityAt, err = parseTime(lastActivity); err != nil {
		return nil, err
	}
	return conv, nil
}

// Summary describes one stored snapshot without loading its full payload.
type Summary struct {
	ID             string    `json:"id"`
	Messages       int       `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// List returns snapshot summaries ordered by last activity, newest first.
func (s *Store) List(ctx context.Context) (summaries []Summary, err error) {
	start := s.now()
	defer func() { s.metrics.RecordSnapshotQuery("list", err, s.now().Sub(start)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, messages, created_at, last_activity_at
		FROM conversations ORDER BY last_activity_at DESC, id
	`)
	if err != nil {
		err = errcode.Wrap(errcode.ExecutionError, "list snapshots", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, messages, createdAt, lastActivity string
		if err = rows.Scan(&id, &messages, &createdAt, &lastActivity); err != nil {
			err = errcode.Wrap(errcode.ExecutionError, "scan snapshot row", err)
			return nil, err
		}
		var msgs []json.RawMessage
		if err = unmarshalColumn(messages, &msgs); err != nil {
			return nil, err
		}
		summary := Summary{ID: id, Messages: len(msgs)}
		if summary.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if summary.LastActivityAt, err = parseTime(lastActivity); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err = rows.Err(); err != nil {
		err = errcode.Wrap(errcode.ExecutionError, "iterate snapshots", err)
		return nil, err
	}
	return summaries, nil
}

// Delete removes one snapshot.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := s.now()
	defer func() { s.metrics.RecordSnapshotQuery("delete", err, s.now().Sub(start)) }()

	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return errcode.Wrap(errcode.ExecutionError, "delete snapshot", err)
	}
	affected, raErr := res.RowsAffected()
	if raErr == nil && affected == 0 {
		err = errcode.Newf(errcode.NotFound, "no snapshot for conversation %s", id)
		return err
	}
	return nil
}

func unmarshalColumn(raw string, out any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errcode.Wrap(errcode.InvalidJSON, "decode snapshot column", err)
	}
	return nil
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errcode.Wrap(errcode.InvalidJSON, "parse snapshot timestamp", err)
	}
	return t, nil
}

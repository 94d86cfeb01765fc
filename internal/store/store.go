// Package store is the durable layer: sessions, maps, battles, chat, shop
// and ledger tables on SQLite or Postgres behind one query surface. Writes
// to watched tables are announced through a RowSink so connected peers see
// inserts and updates as they land.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"wartable/internal/live"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Supported driver names for Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RowSink receives change notifications for watched tables. The realtime hub
// implements it; a nil sink disables notifications.
type RowSink interface {
	PublishRowChange(sessionID, table string, op live.RowOp, row any)
}

// Store wraps the database handle plus the change sink.
type Store struct {
	logger *slog.Logger
	db     *sql.DB
	driver string
	sink   RowSink
	now    func() time.Time
}

// Open connects to the database named by driver ("sqlite" or "postgres"),
// applies connection settings and ensures the schema exists.
func Open(logger *slog.Logger, driver, dsn string) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}

	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("ensure db directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	s := &Store{logger: logger, db: db, driver: driver, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetRowSink installs the change sink. Call before serving traffic.
func (s *Store) SetRowSink(sink RowSink) {
	s.sink = sink
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS maps (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			grid_size INTEGER NOT NULL,
			terrain TEXT NOT NULL,
			background TEXT,
			tokens TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS battles (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			map_id TEXT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			monsters TEXT NOT NULL,
			allies TEXT NOT NULL,
			log TEXT NOT NULL,
			initiative TEXT NOT NULL,
			background TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS members (
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY(session_id, user_id),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS invites (
			code TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			created_by TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			uses INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS shops (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			items TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS gold_ledger (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			delta INTEGER NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_battles_session_created ON battles(session_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session_created ON chat_messages(session_id, created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_session_user ON gold_ledger(session_id, user_id);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// q rewrites ? placeholders to $N for Postgres. Queries are written once in
// SQLite style and rebound per driver.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) publish(sessionID, table string, op live.RowOp, row any) {
	if s.sink == nil {
		return
	}
	s.sink.PublishRowChange(sessionID, table, op, row)
}

// marshalJSON encodes a value for a JSON text column. Collections marshal to
// [] or {} rather than null so decoders never see a missing field.
func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json column: %w", err)
	}
	return string(raw), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

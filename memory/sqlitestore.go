package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/petal-labs/finagent/chat"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	thread_id TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	id        TEXT NOT NULL,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	time      INTEGER NOT NULL,
	PRIMARY KEY (thread_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(time);
`

// SQLiteStoreConfig configures the SQLite message store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string, e.g. "file:finagent.db".
	// In-memory DSNs (":memory:", "mode=memory") are served by a single
	// connection so every caller sees the same database.
	DSN string
}

// SQLiteStore persists messages to SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
	// writes are serialized so per-thread sequence numbers never collide.
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) a SQLite message store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("memory: sqlite DSN is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory: open: %w", err)
	}
	if isInMemoryDSN(cfg.DSN) {
		// Each connection to an in-memory DSN opens its own empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, time FROM messages WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("memory: load: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		var (
			msg   Message
			role  string
			nanos int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &nanos); err != nil {
			return nil, fmt.Errorf("memory: scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.Time = time.Unix(0, nanos).UTC()
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, threadID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	normalized := normalize(msgs, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE thread_id = ?`, threadID,
	).Scan(&last); err != nil {
		return fmt.Errorf("memory: next seq: %w", err)
	}

	for i, msg := range normalized {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (thread_id, seq, id, role, content, time) VALUES (?, ?, ?, ?, ?, ?)`,
			threadID,
			last+int64(i)+1,
			msg.ID,
			string(msg.Role),
			msg.Content,
			msg.Time.UnixNano(),
		); err != nil {
			return fmt.Errorf("memory: append: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("memory: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE thread_id IN (
			SELECT thread_id FROM messages GROUP BY thread_id HAVING MAX(time) < ?
		)`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("memory: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("memory: prune rows: %w", err)
	}
	return int(n), nil
}

func isInMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"line-chat-bot/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
	chat_id TEXT PRIMARY KEY,
	history TEXT NOT NULL,
	ttl     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_ttl ON history(ttl);
`

// SQLiteStore is a file-backed history store for local runs.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-process database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repository: create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, conversationKey string) (domain.HistoryLookup, error) {
	var rec domain.HistoryRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, history, ttl FROM history WHERE chat_id = ?`, conversationKey,
	).Scan(&rec.ConversationKey, &rec.Text, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Absent(), nil
	}
	if err != nil {
		return domain.Absent(), fmt.Errorf("repository: sqlite Load: %w", err)
	}
	if expired(rec, s.now()) {
		return domain.Absent(), nil
	}
	return domain.Present(rec), nil
}

func (s *SQLiteStore) Save(ctx context.Context, conversationKey, historyText string, expiresAt int64) error {
	if strings.TrimSpace(conversationKey) == "" {
		return errors.New("repository: sqlite Save: conversation key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (chat_id, history, ttl) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET history = excluded.history, ttl = excluded.ttl`,
		conversationKey, historyText, expiresAt)
	if err != nil {
		return fmt.Errorf("repository: sqlite Save: %w", err)
	}
	return nil
}

// PurgeExpired deletes records whose expiry has passed and reports how many
// were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE ttl > 0 AND ttl <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("repository: sqlite PurgeExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repository: sqlite PurgeExpired: %w", err)
	}
	return n, nil
}

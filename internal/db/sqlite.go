package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens (or creates) the database file, creating its parent
// directory when needed.
func NewSQLite(ctx context.Context, cfg utils.SQLiteConfig) (*SQLite, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// One writer at a time; WAL still lets readers proceed.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	return &SQLite{DB: conn}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("sqlite: database not initialised")
	}

	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS conversation_logs (",
			"    user_id TEXT PRIMARY KEY,",
			"    created_at INTEGER NOT NULL,",
			"    updated_at INTEGER NOT NULL",
			")",
		}, "\n"),
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS conversation_turns (",
			"    id INTEGER PRIMARY KEY AUTOINCREMENT,",
			"    user_id TEXT NOT NULL REFERENCES conversation_logs(user_id) ON DELETE CASCADE,",
			"    user_text TEXT NOT NULL,",
			"    assistant_text TEXT NOT NULL,",
			"    occurred_at INTEGER NOT NULL",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS idx_conversation_turns_user ON conversation_turns (user_id, occurred_at)",
	}

	for _, stmt := range statements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}

	return nil
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

const (
	sqliteSelectLog = `SELECT created_at, updated_at FROM conversation_logs WHERE user_id = ?`

	sqliteSelectTurns = `SELECT user_text, assistant_text, occurred_at FROM conversation_turns WHERE user_id = ? ORDER BY id ASC`

	sqliteTouchLog = `INSERT INTO conversation_logs (user_id, created_at, updated_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`

	sqliteCreateLog = `INSERT OR IGNORE INTO conversation_logs (user_id, created_at, updated_at) VALUES (?, ?, ?)`

	sqliteUpdateLog = `UPDATE conversation_logs SET updated_at = ? WHERE user_id = ?`

	sqliteInsertTurn = `INSERT INTO conversation_turns (user_id, user_text, assistant_text, occurred_at) VALUES (?, ?, ?, ?)`

	sqliteTrimTurns = `DELETE FROM conversation_turns WHERE user_id = ? AND id NOT IN (
    SELECT id FROM conversation_turns WHERE user_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?
)`
)

// SQLiteStore mirrors PostgresStore on a local database file. Timestamps are
// stored as Unix nanoseconds.
type SQLiteStore struct {
	db       *sql.DB
	maxTurns int
	now      clock
}

func NewSQLiteStore(db *sql.DB, maxTurns int) *SQLiteStore {
	return &SQLiteStore{db: db, maxTurns: maxTurns, now: utcNow}
}

func (s *SQLiteStore) Find(ctx context.Context, userID string) (*models.ConversationLog, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	var createdAt, updatedAt int64
	err = s.db.QueryRowContext(ctx, sqliteSelectLog, userID).Scan(&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: sqlite find log %s: %w", userID, err)
	}

	log := &models.ConversationLog{
		UserID:    userID,
		CreatedAt: fromUnixNano(createdAt),
		UpdatedAt: fromUnixNano(updatedAt),
	}

	rows, err := s.db.QueryContext(ctx, sqliteSelectTurns, userID)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite find turns %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			turn       models.ConversationTurn
			occurredAt int64
		)
		if err := rows.Scan(&turn.UserText, &turn.AssistantText, &occurredAt); err != nil {
			return nil, fmt.Errorf("history: sqlite scan turn %s: %w", userID, err)
		}
		turn.OccurredAt = fromUnixNano(occurredAt)
		log.Turns = append(log.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: sqlite iterate turns %s: %w", userID, err)
	}

	return log, nil
}

// AppendTurn writes the log row and the turn in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)
	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: sqlite begin %s: %w", userID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqliteTouchLog, userID, now, now); err != nil {
		return fmt.Errorf("history: sqlite touch log %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, sqliteInsertTurn, userID, turn.UserText, turn.AssistantText, turn.OccurredAt.UnixNano()); err != nil {
		return fmt.Errorf("history: sqlite insert turn %s: %w", userID, err)
	}
	if err := s.trim(ctx, tx, userID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: sqlite commit %s: %w", userID, err)
	}
	return nil
}

// UpsertTurn uses autocommit statements: create-if-missing, insert, touch.
// It avoids the explicit transaction that AppendTurn may have failed to open.
func (s *SQLiteStore) UpsertTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)
	now := s.now().UnixNano()

	if _, err := s.db.ExecContext(ctx, sqliteCreateLog, userID, now, now); err != nil {
		return fmt.Errorf("history: sqlite create log %s: %w", userID, err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteInsertTurn, userID, turn.UserText, turn.AssistantText, turn.OccurredAt.UnixNano()); err != nil {
		return fmt.Errorf("history: sqlite insert turn %s: %w", userID, err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpdateLog, now, userID); err != nil {
		return fmt.Errorf("history: sqlite touch log %s: %w", userID, err)
	}
	return s.trim(ctx, s.db, userID)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) trim(ctx context.Context, exec sqlExecer, userID string) error {
	if s.maxTurns <= 0 {
		return nil
	}
	if _, err := exec.ExecContext(ctx, sqliteTrimTurns, userID, userID, s.maxTurns); err != nil {
		return fmt.Errorf("history: sqlite trim turns %s: %w", userID, err)
	}
	return nil
}

func fromUnixNano(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

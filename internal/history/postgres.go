package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

const (
	pgSelectLog = `SELECT created_at, updated_at FROM conversation_logs WHERE user_id = $1`

	pgSelectTurns = `SELECT user_text, assistant_text, occurred_at FROM conversation_turns WHERE user_id = $1 ORDER BY id ASC`

	pgTouchLog = `INSERT INTO conversation_logs (user_id, created_at, updated_at) VALUES ($1, $2, $2)
ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`

	pgInsertTurn = `INSERT INTO conversation_turns (user_id, user_text, assistant_text, occurred_at) VALUES ($1, $2, $3, $4)`

	pgUpsertTurn = `WITH log AS (
    INSERT INTO conversation_logs (user_id, created_at, updated_at) VALUES ($1, $5, $5)
    ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
    RETURNING user_id
)
INSERT INTO conversation_turns (user_id, user_text, assistant_text, occurred_at)
SELECT user_id, $2, $3, $4 FROM log`

	pgTrimTurns = `DELETE FROM conversation_turns WHERE user_id = $1 AND id NOT IN (
    SELECT id FROM conversation_turns WHERE user_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2
)`
)

// PostgresStore keeps logs in conversation_logs with one row per turn in
// conversation_turns.
type PostgresStore struct {
	pool     *pgxpool.Pool
	maxTurns int
	now      clock
}

func NewPostgresStore(pool *pgxpool.Pool, maxTurns int) *PostgresStore {
	return &PostgresStore{pool: pool, maxTurns: maxTurns, now: utcNow}
}

func (s *PostgresStore) Find(ctx context.Context, userID string) (*models.ConversationLog, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	log := &models.ConversationLog{UserID: userID}
	if err := s.pool.QueryRow(ctx, pgSelectLog, userID).Scan(&log.CreatedAt, &log.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyPgError("find log", userID, err)
	}

	rows, err := s.pool.Query(ctx, pgSelectTurns, userID)
	if err != nil {
		return nil, classifyPgError("find turns", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn models.ConversationTurn
		if err := rows.Scan(&turn.UserText, &turn.AssistantText, &turn.OccurredAt); err != nil {
			return nil, classifyPgError("scan turn", userID, err)
		}
		turn.OccurredAt = turn.OccurredAt.UTC()
		log.Turns = append(log.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("iterate turns", userID, err)
	}

	return log, nil
}

// AppendTurn creates or touches the log row and inserts the turn inside one
// transaction.
func (s *PostgresStore) AppendTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)
	now := s.now()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgTouchLog, userID, now); err != nil {
			return classifyPgError("touch log", userID, err)
		}
		if _, err := tx.Exec(ctx, pgInsertTurn, userID, turn.UserText, turn.AssistantText, turn.OccurredAt); err != nil {
			return classifyPgError("insert turn", userID, err)
		}
		return s.trim(ctx, tx, userID)
	})
}

// UpsertTurn does the same work as a single statement, without an explicit
// transaction.
func (s *PostgresStore) UpsertTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)

	if _, err := s.pool.Exec(ctx, pgUpsertTurn, userID, turn.UserText, turn.AssistantText, turn.OccurredAt, s.now()); err != nil {
		return classifyPgError("upsert turn", userID, err)
	}
	return s.trim(ctx, s.pool, userID)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) trim(ctx context.Context, exec pgExecer, userID string) error {
	if s.maxTurns <= 0 {
		return nil
	}
	if _, err := exec.Exec(ctx, pgTrimTurns, userID, s.maxTurns); err != nil {
		return classifyPgError("trim turns", userID, err)
	}
	return nil
}

func classifyPgError(op, userID string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("history: postgres %s %s: %w: %v", op, userID, ErrSchemaMissing, err)
	}
	return fmt.Errorf("history: postgres %s %s: %w", op, userID, err)
}

package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

var (
	ErrUserIDRequired = errors.New("history: user id is required")
	ErrSchemaMissing  = errors.New("history: schema missing")
)

// Store persists one append-only ConversationLog per user.
//
// Find returns (nil, nil) when the user has no log yet. AppendTurn and
// UpsertTurn both add exactly one turn and create the log when it is missing;
// they differ only in how they reach the database, so a caller can fall back
// from one to the other after a failure.
type Store interface {
	Find(ctx context.Context, userID string) (*models.ConversationLog, error)
	AppendTurn(ctx context.Context, userID string, turn models.ConversationTurn) error
	UpsertTurn(ctx context.Context, userID string, turn models.ConversationTurn) error
}

type clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUserIDRequired
	}
	return userID, nil
}

func normalizeTurn(turn models.ConversationTurn, now clock) models.ConversationTurn {
	if turn.OccurredAt.IsZero() {
		turn.OccurredAt = now()
	}
	turn.OccurredAt = turn.OccurredAt.UTC()
	return turn
}

package history

import (
	"context"
	"sync"

	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

// MemoryStore keeps logs in process memory. Used for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	logs     map[string]*models.ConversationLog
	maxTurns int
	now      clock
}

func NewMemoryStore(maxTurns int) *MemoryStore {
	return &MemoryStore{
		logs:     make(map[string]*models.ConversationLog),
		maxTurns: maxTurns,
		now:      utcNow,
	}
}

func (s *MemoryStore) Find(ctx context.Context, userID string) (*models.ConversationLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[userID]
	if !ok {
		return nil, nil
	}

	copied := *log
	copied.Turns = append([]models.ConversationTurn(nil), log.Turns...)
	return &copied, nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	return s.append(ctx, userID, turn)
}

// UpsertTurn is identical to AppendTurn here; the mutex already makes the
// append atomic.
func (s *MemoryStore) UpsertTurn(ctx context.Context, userID string, turn models.ConversationTurn) error {
	return s.append(ctx, userID, turn)
}

func (s *MemoryStore) append(ctx context.Context, userID string, turn models.ConversationTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userID, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	turn = normalizeTurn(turn, s.now)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	log, ok := s.logs[userID]
	if !ok {
		log = &models.ConversationLog{UserID: userID, CreatedAt: now}
		s.logs[userID] = log
	}
	log.Turns = append(log.Turns, turn)
	log.UpdatedAt = now

	if s.maxTurns > 0 && len(log.Turns) > s.maxTurns {
		sorted := log.SortedTurns()
		log.Turns = sorted[len(sorted)-s.maxTurns:]
	}

	return nil
}

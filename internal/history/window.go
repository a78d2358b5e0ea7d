package history

import (
	"context"
	"fmt"

	"github.com/wuwenbin0122/mindful.ai/internal/gateway"
	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

const DefaultWindowSize = 20

// Window returns at most size of the most recent turns, oldest first. The
// log is re-sorted by OccurredAt first because storage order is not
// guaranteed to be chronological. A nil log yields an empty window.
func Window(log *models.ConversationLog, size int) []models.ConversationTurn {
	if size <= 0 {
		size = DefaultWindowSize
	}

	turns := log.SortedTurns()
	if len(turns) > size {
		turns = turns[len(turns)-size:]
	}
	return turns
}

// Entries expands turns into role-tagged entries, each user entry directly
// followed by its assistant reply.
func Entries(turns []models.ConversationTurn) []gateway.Entry {
	entries := make([]gateway.Entry, 0, 2*len(turns))
	for _, turn := range turns {
		entries = append(entries,
			gateway.Entry{Role: gateway.RoleUser, Text: turn.UserText},
			gateway.Entry{Role: gateway.RoleAssistant, Text: turn.AssistantText},
		)
	}
	return entries
}

// Windower loads a user's log and reduces it to the entries submitted to the
// model alongside a new prompt.
type Windower struct {
	store Store
	size  int
}

func NewWindower(store Store, size int) *Windower {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Windower{store: store, size: size}
}

func (w *Windower) Size() int {
	return w.size
}

// Load returns an empty slice, not an error, for a user without history.
func (w *Windower) Load(ctx context.Context, userID string) ([]gateway.Entry, error) {
	log, err := w.store.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("history: load window for %s: %w", userID, err)
	}
	return Entries(Window(log, w.size)), nil
}

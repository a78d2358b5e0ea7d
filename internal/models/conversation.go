package models

import (
	"sort"
	"time"
)

// ConversationTurn is one completed prompt/reply pair. Turns are never
// modified after they are stored.
type ConversationTurn struct {
	UserText      string    `bson:"user" json:"user"`
	AssistantText string    `bson:"ai_reply" json:"aiReply"`
	OccurredAt    time.Time `bson:"timestamp" json:"timestamp"`
}

// ConversationLog holds every stored turn for one user. Storage order is not
// guaranteed to be chronological; use SortedTurns when order matters.
type ConversationLog struct {
	UserID    string             `bson:"user_id" json:"userId"`
	Turns     []ConversationTurn `bson:"messages" json:"turns"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updatedAt"`
}

// SortedTurns returns a copy of the turns ordered by OccurredAt ascending.
// Turns sharing a timestamp keep their storage order.
func (l *ConversationLog) SortedTurns() []ConversationTurn {
	if l == nil || len(l.Turns) == 0 {
		return nil
	}

	turns := append([]ConversationTurn(nil), l.Turns...)
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].OccurredAt.Before(turns[j].OccurredAt)
	})
	return turns
}

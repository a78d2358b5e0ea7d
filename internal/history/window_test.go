package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wuwenbin0122/mindful.ai/internal/gateway"
	"github.com/wuwenbin0122/mindful.ai/internal/models"
)

var baseTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func turnAt(i int) models.ConversationTurn {
	return models.ConversationTurn{
		UserText:      fmt.Sprintf("prompt %d", i),
		AssistantText: fmt.Sprintf("reply %d", i),
		OccurredAt:    baseTime.Add(time.Duration(i) * time.Minute),
	}
}

func logWith(n int) *models.ConversationLog {
	log := &models.ConversationLog{UserID: "user-1"}
	for i := 0; i < n; i++ {
		log.Turns = append(log.Turns, turnAt(i))
	}
	return log
}

func TestWindowLengthIsMinOfLogAndSize(t *testing.T) {
	cases := []struct {
		logLen, size, want int
	}{
		{0, 20, 0},
		{5, 20, 5},
		{20, 20, 20},
		{25, 20, 20},
		{3, 1, 1},
	}

	for _, tc := range cases {
		got := Window(logWith(tc.logLen), tc.size)
		if len(got) != tc.want {
			t.Fatalf("log %d window %d: expected %d turns, got %d", tc.logLen, tc.size, tc.want, len(got))
		}
	}
}

func TestWindowKeepsMostRecentTurns(t *testing.T) {
	got := Window(logWith(25), 20)

	if got[0].UserText != "prompt 5" {
		t.Fatalf("expected oldest kept turn to be prompt 5, got %s", got[0].UserText)
	}
	if got[len(got)-1].UserText != "prompt 24" {
		t.Fatalf("expected newest turn to be prompt 24, got %s", got[len(got)-1].UserText)
	}
}

func TestWindowResortsOutOfOrderLog(t *testing.T) {
	log := &models.ConversationLog{UserID: "user-1"}
	for _, i := range []int{7, 2, 9, 0, 4, 3, 8, 1, 6, 5} {
		log.Turns = append(log.Turns, turnAt(i))
	}

	got := Window(log, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].OccurredAt.Before(got[i].OccurredAt) {
			t.Fatalf("window not strictly ascending at %d: %s >= %s", i, got[i-1].OccurredAt, got[i].OccurredAt)
		}
	}
	if got[0].UserText != "prompt 6" || got[3].UserText != "prompt 9" {
		t.Fatalf("expected prompts 6..9, got %s..%s", got[0].UserText, got[3].UserText)
	}

	if log.Turns[0].UserText != "prompt 7" {
		t.Fatalf("window must not reorder the stored log")
	}
}

func TestWindowOfAbsentLogIsEmpty(t *testing.T) {
	if got := Window(nil, 20); len(got) != 0 {
		t.Fatalf("expected empty window, got %d", len(got))
	}
}

func TestEntriesPairUserBeforeAssistant(t *testing.T) {
	entries := Entries([]models.ConversationTurn{turnAt(0), turnAt(1)})

	want := []gateway.Entry{
		{Role: gateway.RoleUser, Text: "prompt 0"},
		{Role: gateway.RoleAssistant, Text: "reply 0"},
		{Role: gateway.RoleUser, Text: "prompt 1"},
		{Role: gateway.RoleAssistant, Text: "reply 1"},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d: expected %+v, got %+v", i, want[i], entries[i])
		}
	}
}

func TestWindowerLoadsTwentyOfTwentyFiveTurns(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := store.AppendTurn(ctx, "user-1", turnAt(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := NewWindower(store, 20).Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 40 {
		t.Fatalf("expected 40 entries, got %d", len(entries))
	}
	if entries[0].Text != "prompt 5" || entries[39].Text != "reply 24" {
		t.Fatalf("unexpected window bounds %q .. %q", entries[0].Text, entries[39].Text)
	}
}

func TestWindowerNewUserIsEmpty(t *testing.T) {
	entries, err := NewWindower(NewMemoryStore(0), 20).Load(context.Background(), "new-user")
	if err != nil {
		t.Fatalf("expected no error for new user, got %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d", len(entries))
	}
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) Find(context.Context, string) (*models.ConversationLog, error) {
	return nil, f.err
}

func TestWindowerWrapsStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewWindower(failingStore{err: boom}, 20).Load(context.Background(), "user-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

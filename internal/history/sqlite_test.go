package history

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/db"
	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

func newSQLiteStore(t *testing.T, maxTurns int) *SQLiteStore {
	t.Helper()

	conn, err := db.NewSQLite(context.Background(), utils.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	return NewSQLiteStore(conn.DB, maxTurns)
}

func TestSQLiteStoreContract(t *testing.T) {
	exerciseStore(t, newSQLiteStore(t, 0), "user-1")
}

func TestSQLiteStoreConcurrentAppends(t *testing.T) {
	exerciseConcurrentAppends(t, newSQLiteStore(t, 0), "user-1")
}

func TestSQLiteStoreCapDropsOldestTurns(t *testing.T) {
	store := newSQLiteStore(t, 2)
	ctx := context.Background()
	for _, i := range []int{3, 0, 1, 2} {
		if err := store.AppendTurn(ctx, "user-1", turnAt(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := store.UpsertTurn(ctx, "user-1", turnAt(4)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	log, err := store.Find(ctx, "user-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(log.Turns) != 2 {
		t.Fatalf("expected 2 turns after trim, got %d", len(log.Turns))
	}
	window := Window(log, 20)
	if window[0].UserText != "prompt 3" || window[1].UserText != "prompt 4" {
		t.Fatalf("expected prompts 3 and 4 to survive, got %+v", window)
	}
}

func TestSQLiteStoreUpsertCreatesLog(t *testing.T) {
	store := newSQLiteStore(t, 0)
	ctx := context.Background()

	if err := store.UpsertTurn(ctx, "fresh", turnAt(0)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertTurn(ctx, "fresh", turnAt(1)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var logs int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM conversation_logs WHERE user_id = ?", "fresh").Scan(&logs); err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if logs != 1 {
		t.Fatalf("expected exactly one log row, got %d", logs)
	}
}

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := &utils.Config{
		History: utils.HistoryConfig{Backend: utils.HistoryBackendSQLite, Window: 20},
		SQLite:  utils.SQLiteConfig{Path: filepath.Join(t.TempDir(), "nested", "history.db")},
	}

	backend, err := Open(context.Background(), cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer backend.Close()

	if backend.Mongo != nil {
		t.Fatalf("sqlite backend must not expose a mongo handle")
	}
	exerciseStore(t, backend.Store, "user-1")
}

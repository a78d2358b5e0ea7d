package history

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/db"
	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

// Backend is an opened Store plus the connection that backs it.
type Backend struct {
	Store Store
	// Mongo is set only for the mongo backend; callers reuse it for the
	// users collection.
	Mongo *db.Mongo

	close func()
}

// Open connects the backend named by cfg.History.Backend and prepares its
// schema.
func Open(ctx context.Context, cfg *utils.Config, logger *zap.SugaredLogger) (*Backend, error) {
	maxTurns := cfg.History.MaxTurns

	switch cfg.History.Backend {
	case utils.HistoryBackendMemory:
		logger.Warnw("history backend is in-memory; conversations are lost on restart")
		return &Backend{Store: NewMemoryStore(maxTurns), close: func() {}}, nil

	case utils.HistoryBackendMongo:
		conn, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("history: mongo connect: %w", err)
		}
		if err := conn.EnsureCollections(ctx); err != nil {
			conn.Close(context.Background())
			return nil, fmt.Errorf("history: mongo ensure collections: %w", err)
		}
		return &Backend{
			Store: NewMongoStore(conn.Conversations, maxTurns),
			Mongo: conn,
			close: func() {
				if err := conn.Close(context.Background()); err != nil {
					logger.Warnw("mongo close error", "error", err)
				}
			},
		}, nil

	case utils.HistoryBackendPostgres:
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("history: postgres connect: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("history: postgres ensure schema: %w", err)
		}
		return &Backend{Store: NewPostgresStore(pg.Pool, maxTurns), close: pg.Close}, nil

	case utils.HistoryBackendSQLite:
		lite, err := db.NewSQLite(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("history: sqlite open: %w", err)
		}
		if err := lite.EnsureSchema(ctx); err != nil {
			lite.Close()
			return nil, fmt.Errorf("history: sqlite ensure schema: %w", err)
		}
		return &Backend{
			Store: NewSQLiteStore(lite.DB, maxTurns),
			close: func() {
				if err := lite.Close(); err != nil {
					logger.Warnw("sqlite close error", "error", err)
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("history: unknown backend %q", cfg.History.Backend)
	}
}

func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

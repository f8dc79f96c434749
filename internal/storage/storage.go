package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/deal-chat/config"
	"github.com/cwrk-planet/deal-chat/internal/badgerdb"
	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/postgres"
	"github.com/cwrk-planet/deal-chat/internal/service"
)

// Backend — хранилище, выбранное storage.backend.
type Backend interface {
	service.Repository
	Ping(ctx context.Context) error
	Seed(ctx context.Context, listings []domain.Listing, users []domain.User) error
}

var (
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*badgerdb.Store)(nil)
)

// Open открывает хранилище и, если задан storage.seedPath, заливает справочники.
// Возвращаемая функция освобождает пул или базу.
func Open(ctx context.Context, cfg *config.Config) (Backend, func(), error) {
	var (
		b       Backend
		closeFn func()
	)
	switch cfg.Storage.Backend {
	case "badger":
		store, err := badgerdb.Open(cfg.Badger.Path)
		if err != nil {
			return nil, nil, err
		}
		b, closeFn = store, func() { _ = store.Close() }
		slog.Info("storage: badger", "path", cfg.Badger.Path)

	default:
		lifetime, idle := cfg.Postgres.Lifetimes()
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: lifetime,
			MaxConnIdleTime: idle,
			ApplicationName: cfg.Postgres.ApplicationName,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		store := postgres.New(pool)
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		b, closeFn = store, pool.Close
		slog.Info("storage: postgres", "migrate", cfg.Postgres.Migrate)
	}

	if cfg.Storage.SeedPath != "" {
		if err := seed(ctx, b, cfg.Storage.SeedPath); err != nil {
			closeFn()
			return nil, nil, err
		}
	}
	return b, closeFn, nil
}

func seed(ctx context.Context, b Backend, path string) error {
	s, err := config.LoadSeed(path)
	if err != nil {
		return err
	}
	listings, users := s.Domain()
	if err := b.Seed(ctx, listings, users); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	slog.Info("storage seeded", "listings", len(listings), "users", len(users))
	return nil
}

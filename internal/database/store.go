package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/repository"
)

// Stores bundles the session store with whatever it needs closed on shutdown.
// Pool is nil unless the postgres backend is selected.
type Stores struct {
	Sessions repository.SessionStore
	Pool     *pgxpool.Pool
	closers  []func()
}

// Close releases every backend resource.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores opens the session store selected by STORE_BACKEND.
func OpenStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err := NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Sessions: repository.NewGameSessionRepository(pool),
			Pool:     pool,
			closers:  []func(){pool.Close},
		}, nil

	case config.StoreBackendBBolt:
		store, err := repository.OpenBBoltSessionStore(cfg.BBoltPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.BBoltPath).Msg("BBolt session store opened")
		return &Stores{
			Sessions: store,
			closers: []func(){func() {
				if err := store.Close(); err != nil {
					log.Error().Err(err).Msg("BBolt close error")
				}
			}},
		}, nil

	case config.StoreBackendMemory:
		log.Warn().Msg("Using in-memory session store, data is lost on restart")
		return &Stores{Sessions: repository.NewMemorySessionStore()}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

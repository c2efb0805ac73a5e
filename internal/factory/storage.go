// Package factory constructs service dependencies from config.
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/config"
	storepkg "github.com/omnireply/omnireply/internal/store"
	"github.com/omnireply/omnireply/internal/store/memstore"
	storepg "github.com/omnireply/omnireply/internal/store/postgres"
)

const bootstrapTimeout = 30 * time.Second

// NewStore returns the store selected by cfg.DBDriver. For postgres the
// connection is opened synchronously (health checks need it right away) and
// the schema check runs async so startup is not gated on DDL.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "memory":
		return memstore.New(), nil
	case "postgres":
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		go func() {
			bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
			defer cancel()
			if err := storepg.EnsureSchema(bootstrapCtx, db); err != nil {
				log.Warn().Err(err).Msg("store schema check failed")
			} else {
				log.Debug().Msg("store schema check completed")
			}
		}()
		return storepg.NewWithDB(db), nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}

package factory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/config"
	"github.com/omnireply/omnireply/internal/searchindex"
)

// NewSearchIndex creates the Weaviate index client, or nil when no URL is
// configured. A nil index disables semantic search without affecting message
// storage or reply generation.
func NewSearchIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (searchindex.Index, error) {
	if cfg.SearchIndexURL == "" {
		log.Info().Msg("search index URL not configured; semantic search disabled")
		return nil, nil
	}

	idx, err := searchindex.NewWeaviateIndex(cfg.SearchIndexURL)
	if err != nil {
		return nil, err
	}

	// Async schema bootstrap; don't block startup.
	go func() {
		bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		if err := searchindex.BootstrapWeaviate(bootstrapCtx, cfg.SearchIndexURL); err != nil {
			log.Warn().Err(err).Str("url", cfg.SearchIndexURL).Msg("search index bootstrap failed")
		} else {
			log.Debug().Str("url", cfg.SearchIndexURL).Msg("search index bootstrap completed")
		}
	}()

	return idx, nil
}

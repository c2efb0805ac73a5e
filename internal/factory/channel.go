package factory

import (
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/channel"
	"github.com/omnireply/omnireply/internal/channel/ghl"
	"github.com/omnireply/omnireply/internal/config"
)

// NewChannelProvider creates the outbound CRM messaging client.
func NewChannelProvider(cfg *config.Config, log zerolog.Logger) channel.Provider {
	if cfg.CRMAPIKey == "" {
		log.Warn().Msg("CRM API key not configured; outbound sends will be rejected")
	}
	return ghl.New(cfg.CRMBaseURL, cfg.CRMAPIKey)
}

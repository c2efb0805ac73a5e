package factory

import (
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/completion"
	"github.com/omnireply/omnireply/internal/completion/anthropic"
	"github.com/omnireply/omnireply/internal/completion/openai"
	"github.com/omnireply/omnireply/internal/config"
	"github.com/omnireply/omnireply/internal/model"
)

// NewCompletionProviders builds one provider per configured API key. Accounts
// whose settings pick a provider with no key fail at generation time, not at
// startup; a single-provider deployment is normal.
func NewCompletionProviders(cfg *config.Config, log zerolog.Logger) map[model.AIProvider]completion.Provider {
	providers := map[model.AIProvider]completion.Provider{}
	if cfg.OpenAIAPIKey != "" {
		providers[model.AIProviderOpenAI] = openai.New(cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "" {
		providers[model.AIProviderAnthropic] = anthropic.New(cfg.AnthropicAPIKey)
	}
	if len(providers) == 0 {
		log.Warn().Msg("no completion provider API keys configured; AI replies will fail")
	}
	return providers
}

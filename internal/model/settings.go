package model

import "fmt"

// AIProvider selects the completion backend for a tenant.
type AIProvider string

const (
	AIProviderOpenAI    AIProvider = "openai"
	AIProviderAnthropic AIProvider = "anthropic"
)

// AccountSettings is the tenant-scoped context and AI policy object.
// The three context caps are independent: day and message caps produce
// candidate sets, the token cap is the final hard limit.
type AccountSettings struct {
	AccountID                   string     `json:"accountId"`
	ContextWindowDays           int        `json:"contextWindowDays"`
	ContextWindowMessages       int        `json:"contextWindowMessages"`
	MaxContextTokens            int        `json:"maxContextTokens"`
	EnableSemanticSearch        bool       `json:"enableSemanticSearch"`
	SemanticSearchLimit         int        `json:"semanticSearchLimit"`
	SemanticSimilarityThreshold float64    `json:"semanticSimilarityThreshold"`
	DefaultAIProvider           AIProvider `json:"defaultAiProvider"`
	OpenAIModel                 string     `json:"openaiModel"`
	AnthropicModel              string     `json:"anthropicModel"`
}

// DefaultSettings returns the settings applied to accounts that never
// customized anything.
func DefaultSettings(accountID string) *AccountSettings {
	return &AccountSettings{
		AccountID:                   accountID,
		ContextWindowDays:           30,
		ContextWindowMessages:       50,
		MaxContextTokens:            4000,
		EnableSemanticSearch:        false,
		SemanticSearchLimit:         5,
		SemanticSimilarityThreshold: 0.7,
		DefaultAIProvider:           AIProviderOpenAI,
		OpenAIModel:                 "gpt-4o-mini",
		AnthropicModel:              "claude-3-5-haiku-latest",
	}
}

// Validate rejects out-of-range values. Values are never silently clamped;
// callers must fix and resubmit.
func (s *AccountSettings) Validate() error {
	if s.ContextWindowDays < 1 || s.ContextWindowDays > 365 {
		return fmt.Errorf("%w: contextWindowDays must be in [1,365]", ErrValidation)
	}
	if s.ContextWindowMessages < 1 || s.ContextWindowMessages > 500 {
		return fmt.Errorf("%w: contextWindowMessages must be in [1,500]", ErrValidation)
	}
	if s.MaxContextTokens < 100 || s.MaxContextTokens > 200000 {
		return fmt.Errorf("%w: maxContextTokens must be in [100,200000]", ErrValidation)
	}
	if s.SemanticSearchLimit < 1 || s.SemanticSearchLimit > 50 {
		return fmt.Errorf("%w: semanticSearchLimit must be in [1,50]", ErrValidation)
	}
	if s.SemanticSimilarityThreshold < 0 || s.SemanticSimilarityThreshold > 1 {
		return fmt.Errorf("%w: semanticSimilarityThreshold must be in [0,1]", ErrValidation)
	}
	switch s.DefaultAIProvider {
	case AIProviderOpenAI, AIProviderAnthropic:
	default:
		return fmt.Errorf("%w: unsupported defaultAiProvider %q", ErrValidation, s.DefaultAIProvider)
	}
	return nil
}

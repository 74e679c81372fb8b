package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/payproof/internal/common"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default vision models per provider.
var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderOllama:    "llava",
}

// NewModel creates a langchaingo model for the configured provider.
func NewModel(cfg Config) (llms.Model, error) {
	provider := strings.ToLower(cfg.Provider)
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModels[provider]
	}

	switch provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai API key required", common.ErrMissingConfig)
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(modelName)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
		return model, nil

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: anthropic API key required", common.ErrMissingConfig)
		}
		model, err := anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(modelName))
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
		return model, nil

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(modelName)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vision provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
}

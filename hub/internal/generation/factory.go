package generation

import (
	"context"
	"fmt"
	"os"

	"github.com/syncroom/syncroom/hub/internal/config"
)

// New creates a Generator based on configuration.
func New(ctx context.Context, cfg config.GenerationConfig) (Generator, error) {
	opts := Options{APIKey: cfg.APIKey, Model: cfg.Model}
	if cfg.SystemPromptFile != "" {
		b, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		opts.SystemPrompt = string(b)
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(opts)
	case "anthropic":
		return NewAnthropic(opts)
	case "gemini", "":
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown generation provider: %q", cfg.Provider)
	}
}

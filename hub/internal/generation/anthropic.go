package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicGenerator calls the Messages API.
type AnthropicGenerator struct {
	client       anthropic.Client
	model        string
	systemPrompt string
}

// NewAnthropic creates an Anthropic-backed generator.
func NewAnthropic(opts Options) (*AnthropicGenerator, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, fmt.Errorf("anthropic generator requires an API key")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(key)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicGenerator{
		client:       anthropic.NewClient(reqOpts...),
		model:        model,
		systemPrompt: opts.systemPrompt(),
	}, nil
}

func (g *AnthropicGenerator) Name() string { return "anthropic" }

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (*Reply, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: defaultAnthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: g.systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, wrapErr(ctx, g.Name(), err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
	}
	return ParseReply(sb.String())
}

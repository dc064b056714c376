package generation

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator calls the Chat Completions API in JSON mode.
type OpenAIGenerator struct {
	client       openai.Client
	model        string
	systemPrompt string
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(opts Options) (*OpenAIGenerator, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai generator requires an API key")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{
		client:       openai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: opts.systemPrompt(),
	}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (*Reply, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, wrapErr(ctx, g.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai: no choices", ErrGeneration)
	}
	return ParseReply(resp.Choices[0].Message.Content)
}

package generation

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiGenerator calls the Gemini API with a JSON response MIME type.
type GeminiGenerator struct {
	client       *genai.Client
	model        string
	systemPrompt string
}

// NewGemini creates a Gemini-backed generator.
func NewGemini(ctx context.Context, opts Options) (*GeminiGenerator, error) {
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{
		client:       client,
		model:        model,
		systemPrompt: opts.systemPrompt(),
	}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (*Reply, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, wrapErr(ctx, g.Name(), err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: gemini: no candidates", ErrGeneration)
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	return ParseReply(text)
}

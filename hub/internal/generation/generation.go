// Package generation turns "@ai" prompts into replies from a hosted model.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrGeneration        = errors.New("generation failed")
	ErrGenerationTimeout = errors.New("generation timed out")
)

// DefaultSystemPrompt asks the model for the reply shape the room clients
// render: a chat text plus an optional file tree.
const DefaultSystemPrompt = `You are an expert software engineer helping a team inside a shared project room.
Always answer with a single JSON object and nothing else.
The object must contain a "text" field with your answer for the chat.
When you produce or change code, also include a "fileTree" field mapping each file path to
{"file": {"contents": "<full file contents>"}}.
Do not wrap the JSON in markdown fences.`

// Generator produces a reply for a prompt. Implementations must honor ctx
// cancellation; the caller bounds every call with a deadline.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Reply, error)
	Name() string
}

// Reply is a normalized model answer.
type Reply struct {
	Text     string          `json:"text"`
	FileTree json.RawMessage `json:"fileTree,omitempty"`

	// Raw is the serialized reply delivered to the room unchanged.
	Raw []byte `json:"-"`
}

// Options configures a provider client.
type Options struct {
	APIKey       string
	Model        string
	SystemPrompt string
	// BaseURL overrides the provider endpoint; empty uses the SDK default.
	BaseURL string
}

func (o Options) systemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return DefaultSystemPrompt
}

// wrapErr maps a provider failure onto the package sentinels.
func wrapErr(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrGenerationTimeout, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrGeneration, provider, err)
}

// Unavailable is used when no provider could be configured. Every call
// fails with ErrGeneration so "@ai" requests are answered with an error
// instead of silence.
type Unavailable struct {
	Reason error
}

func (u Unavailable) Name() string { return "unavailable" }

func (u Unavailable) Generate(ctx context.Context, prompt string) (*Reply, error) {
	return nil, fmt.Errorf("%w: %v", ErrGeneration, u.Reason)
}

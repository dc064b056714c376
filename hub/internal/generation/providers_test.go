package generation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncroom/syncroom/hub/internal/config"
)

// fakeProvider answers every request with body and records the last prompt.
func fakeProvider(t *testing.T, body string) (*httptest.Server, func() string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = string(b)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() string {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv, seen := fakeProvider(t, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-4o-mini",
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"message": {"role": "assistant", "content": "{\"text\":\"from openai\"}"}
		}]
	}`)

	g, err := NewOpenAI(Options{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	r, err := g.Generate(context.Background(), "write a server")
	require.NoError(t, err)
	assert.Equal(t, "from openai", r.Text)
	assert.Equal(t, `{"text":"from openai"}`, string(r.Raw))
	assert.Contains(t, seen(), "write a server")
	assert.Contains(t, seen(), "json_object")
}

func TestAnthropicGenerate(t *testing.T) {
	srv, seen := fakeProvider(t, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-haiku-latest",
		"content": [{"type": "text", "text": "plain answer"}],
		"stop_reason": "end_turn",
		"stop_sequence": null,
		"usage": {"input_tokens": 1, "output_tokens": 2}
	}`)

	g, err := NewAnthropic(Options{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	r, err := g.Generate(context.Background(), "explain closures")
	require.NoError(t, err)
	assert.Equal(t, "plain answer", r.Text)
	assert.JSONEq(t, `{"text":"plain answer"}`, string(r.Raw))
	assert.Contains(t, seen(), "explain closures")
}

func TestGeminiGenerate(t *testing.T) {
	srv, seen := fakeProvider(t, `{
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "{\"text\":\"from gemini\"}"}]},
			"finishReason": "STOP"
		}]
	}`)

	g, err := NewGemini(context.Background(), Options{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	r, err := g.Generate(context.Background(), "build a todo app")
	require.NoError(t, err)
	assert.Equal(t, "from gemini", r.Text)
	assert.Contains(t, seen(), "build a todo app")
	assert.Contains(t, seen(), "application/json")
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	g, err := NewOpenAI(Options{APIKey: "test", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = g.Generate(ctx, "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
}

func TestNewFromConfig(t *testing.T) {
	_, err := New(context.Background(), config.GenerationConfig{Provider: "llama"})
	require.Error(t, err)

	_, err = New(context.Background(), config.GenerationConfig{Provider: "openai"})
	require.Error(t, err, "openai without key must fail")

	g, err := New(context.Background(), config.GenerationConfig{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", g.Name())

	_, err = New(context.Background(), config.GenerationConfig{
		Provider:         "openai",
		APIKey:           "k",
		SystemPromptFile: "/nonexistent/prompt.txt",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "system prompt"))
}

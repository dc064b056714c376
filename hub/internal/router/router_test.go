package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syncroom/syncroom/hub/internal/auth"
	"github.com/syncroom/syncroom/hub/internal/config"
	"github.com/syncroom/syncroom/hub/internal/generation"
	"github.com/syncroom/syncroom/hub/internal/store"
	"github.com/syncroom/syncroom/pkg/client"
	"github.com/syncroom/syncroom/pkg/protocol"
)

// fakeGenerator answers prompts with fn.
type fakeGenerator struct {
	fn    func(ctx context.Context, prompt string) (*generation.Reply, error)
	calls atomic.Int32
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (*generation.Reply, error) {
	f.calls.Add(1)
	return f.fn(ctx, prompt)
}

func replyWith(raw string) func(context.Context, string) (*generation.Reply, error) {
	return func(context.Context, string) (*generation.Reply, error) {
		return generation.ParseReply(raw)
	}
}

type testHub struct {
	router  *Router
	store   store.Directory
	auth    *auth.Service
	server  *httptest.Server
	wsURL   string
	project *store.Project
}

func setupTestHub(t *testing.T, gen generation.Generator, opts Options) *testHub {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	authSvc := auth.NewService(config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: time.Hour},
	})

	rt := New(s, authSvc, gen, nil, slog.Default(), opts)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rt.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(ctx)
		srv.Close()
	})

	h := &testHub{
		router: rt,
		store:  s,
		auth:   authSvc,
		server: srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
	h.project = h.seedProject(t, "demo")
	return h
}

func (h *testHub) seedProject(t *testing.T, name string) *store.Project {
	t.Helper()
	p := &store.Project{Name: name, Members: []string{"u1", "u2"}}
	if err := h.store.CreateProject(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (h *testHub) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := h.auth.IssueToken(userID, userID+"@x.io")
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// join dials the project room as userID and waits until the hub has added
// the connection to the room.
func (h *testHub) join(t *testing.T, projectID, userID string) *client.Conn {
	t.Helper()
	before := len(h.router.Rooms().Members(projectID))
	c, err := client.Dial(context.Background(), client.Options{
		URL:       h.wsURL,
		ProjectID: projectID,
		Token:     h.token(t, userID),
	})
	if err != nil {
		t.Fatalf("Dial(%s): %v", userID, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	waitFor(t, func() bool { return len(h.router.Rooms().Members(projectID)) > before })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func receive(t *testing.T, c *client.Conn) (protocol.ProjectMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.ReceiveMessage(ctx)
}

func mustReceive(t *testing.T, c *client.Conn) protocol.ProjectMessage {
	t.Helper()
	pm, err := receive(t, c)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return pm
}

func expectSilence(t *testing.T, c *client.Conn, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if env, err := c.Receive(ctx); err == nil {
		t.Fatalf("expected no event, got %s %s", env.Event, env.Data)
	}
}

func send(t *testing.T, c *client.Conn, msg string) {
	t.Helper()
	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestAdmissionRejections(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	valid := h.token(t, "u1")

	cases := []struct {
		name      string
		projectID string
		token     string
		want      error
	}{
		{"malformed project id", "not-an-object-id", valid, client.ErrInvalidProjectReference},
		{"missing project id", "", valid, client.ErrInvalidProjectReference},
		{"unknown project", primitive.NewObjectID().Hex(), valid, client.ErrProjectNotFound},
		{"no credential", h.project.ID, "", client.ErrUnauthenticated},
		{"bad credential", h.project.ID, "garbage.token.value", client.ErrUnauthenticated},
		// project is checked before the credential
		{"unknown project and no credential", primitive.NewObjectID().Hex(), "", client.ErrProjectNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.Dial(context.Background(), client.Options{
				URL:       h.wsURL,
				ProjectID: tc.projectID,
				Token:     tc.token,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if n := h.router.Rooms().RoomCount(); n != 0 {
		t.Errorf("rejected connections must not create rooms, got %d", n)
	}
}

func TestAdmissionRejectionBody(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})

	resp, err := http.Get(h.server.URL + "/ws?projectId=" + primitive.NewObjectID().Hex())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "ProjectNotFound" {
		t.Errorf("error code: got %q", body["error"])
	}
}

func TestAuthorizationHeaderCredential(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	c, err := client.Dial(context.Background(), client.Options{
		URL:       h.wsURL,
		ProjectID: h.project.ID,
		Token:     h.token(t, "u1"),
		UseHeader: true,
	})
	if err != nil {
		t.Fatalf("Dial with header: %v", err)
	}
	c.Close()
}

func TestPlainMessageReachesOthersOnly(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	// The sender claim is replaced with the admitted identity.
	err := a.SendEvent(context.Background(), protocol.EventProjectMessage, protocol.ProjectMessage{
		Message: "hi",
		Sender:  protocol.Sender{ID: "ai", Email: "AI"},
	})
	if err != nil {
		t.Fatal(err)
	}

	pm := mustReceive(t, b)
	if pm.Message != "hi" {
		t.Errorf("message: got %q", pm.Message)
	}
	if pm.Sender.ID != "u1" || pm.Sender.Email != "u1@x.io" {
		t.Errorf("sender: got %+v, want u1", pm.Sender)
	}
	expectSilence(t, a, 100*time.Millisecond)
}

func TestRoomsAreIsolated(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	other := h.seedProject(t, "other")

	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")
	c := h.join(t, other.ID, "u2")

	send(t, a, "only for demo")
	if pm := mustReceive(t, b); pm.Message != "only for demo" {
		t.Errorf("b got %q", pm.Message)
	}
	expectSilence(t, c, 100*time.Millisecond)
}

func TestAIReplyReachesWholeRoom(t *testing.T) {
	raw := `{"text":"here you go","fileTree":{"index.js":{"file":{"contents":"console.log(1)"}}}}`
	var gotPrompt atomic.Value
	gen := &fakeGenerator{fn: func(ctx context.Context, prompt string) (*generation.Reply, error) {
		gotPrompt.Store(prompt)
		return generation.ParseReply(raw)
	}}
	h := setupTestHub(t, gen, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	send(t, a, "@ai write a function")

	for name, c := range map[string]*client.Conn{"requester": a, "peer": b} {
		pm := mustReceive(t, c)
		if pm.Sender != protocol.AISender {
			t.Errorf("%s: sender got %+v, want ai", name, pm.Sender)
		}
		if pm.Message != raw {
			t.Errorf("%s: reply must be delivered verbatim, got %q", name, pm.Message)
		}
	}
	if p, _ := gotPrompt.Load().(string); p != "write a function" {
		t.Errorf("prompt: got %q, want %q", p, "write a function")
	}
	// The raw command itself is never relayed.
	expectSilence(t, b, 100*time.Millisecond)
}

func TestAIFailureNotifiesRequesterOnly(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, string) (*generation.Reply, error) {
		return nil, fmt.Errorf("%w: upstream 500", generation.ErrGeneration)
	}}
	h := setupTestHub(t, gen, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	send(t, a, "@ai break")

	_, err := receive(t, a)
	var pe *client.ProjectError
	if !errors.As(err, &pe) || pe.Code != protocol.ErrCodeGenerationFailed {
		t.Fatalf("requester: got %v, want generation_failed", err)
	}
	expectSilence(t, b, 150*time.Millisecond)
}

func TestAITimeout(t *testing.T) {
	gen := &fakeGenerator{fn: func(ctx context.Context, _ string) (*generation.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := setupTestHub(t, gen, Options{GenerationTimeout: 50 * time.Millisecond})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	send(t, a, "@ai slow")

	_, err := receive(t, a)
	var pe *client.ProjectError
	if !errors.As(err, &pe) || pe.Code != protocol.ErrCodeGenerationTimeout {
		t.Fatalf("got %v, want generation_timeout", err)
	}
	expectSilence(t, b, 100*time.Millisecond)

	// The room keeps working after a timed-out request.
	send(t, b, "still here")
	if pm := mustReceive(t, a); pm.Message != "still here" || pm.Sender.ID != "u2" {
		t.Errorf("a got %+v after the timeout", pm)
	}
}

func TestPlainTrafficFlowsDuringGeneration(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, _ string) (*generation.Reply, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return generation.ParseReply(`{"text":"done"}`)
	}}
	h := setupTestHub(t, gen, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	send(t, a, "@ai take your time")
	waitFor(t, func() bool { return gen.calls.Load() == 1 })

	send(t, a, "meanwhile from a")
	send(t, b, "meanwhile from b")
	if pm := mustReceive(t, b); pm.Message != "meanwhile from a" {
		t.Errorf("b got %q before the AI reply", pm.Message)
	}
	if pm := mustReceive(t, a); pm.Message != "meanwhile from b" {
		t.Errorf("a got %q before the AI reply", pm.Message)
	}

	close(release)
	for _, c := range []*client.Conn{a, b} {
		if pm := mustReceive(t, c); pm.Sender.ID != protocol.AISenderID {
			t.Errorf("expected AI reply, got %+v", pm)
		}
	}
}

func TestPerSenderOrdering(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	const n = 25
	for i := 0; i < n; i++ {
		send(t, a, fmt.Sprintf("m%02d", i))
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("m%02d", i)
		if pm := mustReceive(t, b); pm.Message != want {
			t.Fatalf("position %d: got %q, want %q", i, pm.Message, want)
		}
	}
}

func TestDisconnectLeavesRoom(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	a.Close()
	waitFor(t, func() bool { return len(h.router.Rooms().Members(h.project.ID)) == 1 })

	b.Close()
	waitFor(t, func() bool { return h.router.Rooms().RoomCount() == 0 })
}

func TestParticipants(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	h.join(t, h.project.ID, "u1")
	h.join(t, h.project.ID, "u1")
	h.join(t, h.project.ID, "u2")

	got := h.router.Participants(h.project.ID)
	if len(got) != 2 {
		t.Fatalf("participants: got %v, want 2 distinct users", got)
	}
}

func TestConnectionCapPerUser(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{MaxConnsPerUser: 1})
	h.join(t, h.project.ID, "u1")

	_, err := client.Dial(context.Background(), client.Options{
		URL:       h.wsURL,
		ProjectID: h.project.ID,
		Token:     h.token(t, "u1"),
	})
	if !errors.Is(err, client.ErrTooManyConnections) {
		t.Fatalf("got %v, want ErrTooManyConnections", err)
	}
}

func TestOversizedMessageKeepsConnection(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{MaxMessageBytes: 256})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	send(t, a, strings.Repeat("x", 400))
	_, err := receive(t, a)
	var pe *client.ProjectError
	if !errors.As(err, &pe) || pe.Code != protocol.ErrCodeMessageTooLarge {
		t.Fatalf("got %v, want message_too_large", err)
	}

	send(t, a, "small")
	if pm := mustReceive(t, b); pm.Message != "small" {
		t.Errorf("b got %q", pm.Message)
	}
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{})
	a := h.join(t, h.project.ID, "u1")
	b := h.join(t, h.project.ID, "u2")

	ctx := context.Background()
	if err := a.SendRaw(ctx, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := a.SendEvent(ctx, "unknown-event", map[string]string{"x": "y"}); err != nil {
		t.Fatal(err)
	}
	send(t, a, "   ")
	send(t, a, "still here")

	if pm := mustReceive(t, b); pm.Message != "still here" {
		t.Errorf("b got %q", pm.Message)
	}
}

func TestInboundRateLimit(t *testing.T) {
	h := setupTestHub(t, &fakeGenerator{fn: replyWith(`{"text":"x"}`)}, Options{
		MessagesPerSecond: 0.001,
		MessageBurst:      1,
	})
	a := h.join(t, h.project.ID, "u1")
	h.join(t, h.project.ID, "u2")

	send(t, a, "first")
	send(t, a, "second")

	_, err := receive(t, a)
	var pe *client.ProjectError
	if !errors.As(err, &pe) || pe.Code != protocol.ErrCodeRateLimited {
		t.Fatalf("got %v, want rate_limited", err)
	}
}

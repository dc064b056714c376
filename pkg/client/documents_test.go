package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/syncroom/syncroom/pkg/protocol"
)

const testProject = "0123456789abcdef01234567"

// fakeHub serves the document routes from memory.
type fakeHub struct {
	mu       sync.Mutex
	tree     json.RawMessage
	failPut  bool
	lastAuth string
}

func (f *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/api/projects/"+testProject+"/file-tree" && r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"fileTree":` + string(f.tree) + `}`))
	case r.URL.Path == "/api/projects/"+testProject+"/file-tree" && r.Method == http.MethodPut:
		if f.failPut {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"DocumentPersistError"}`))
			return
		}
		var body struct {
			FileTree json.RawMessage `json:"fileTree"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.tree = body.FileTree
		_, _ = w.Write([]byte(`{"ok":true}`))
	case r.URL.Path == "/api/projects/"+testProject+"/participants":
		_, _ = w.Write([]byte(`[{"_id":"u1","email":"a@x.io"}]`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"ProjectNotFound"}`))
	}
}

func newFakeHub(t *testing.T) (*fakeHub, *Documents) {
	t.Helper()
	hub := &fakeHub{tree: json.RawMessage(`{}`)}
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, NewDocuments(srv.URL+"/", "tok-1")
}

func TestDocuments_RoundTrip(t *testing.T) {
	hub, docs := newFakeHub(t)
	ctx := context.Background()

	tree, err := docs.FileTree(ctx, testProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 0 {
		t.Fatalf("expected empty tree, got %v", tree)
	}

	tree["main.go"] = json.RawMessage(`{"file":{"contents":"package main"}}`)
	if err := docs.SaveFileTree(ctx, testProject, tree); err != nil {
		t.Fatal(err)
	}
	hub.mu.Lock()
	auth := hub.lastAuth
	hub.mu.Unlock()
	if auth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", auth)
	}

	got, err := docs.FileTree(ctx, testProject)
	if err != nil {
		t.Fatal(err)
	}
	if c, _ := got.Contents("main.go"); c != "package main" {
		t.Errorf("main.go = %q", c)
	}
}

func TestDocuments_Errors(t *testing.T) {
	hub, docs := newFakeHub(t)
	ctx := context.Background()

	if _, err := docs.FileTree(ctx, "ffffffffffffffffffffffff"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}

	hub.mu.Lock()
	hub.failPut = true
	hub.mu.Unlock()
	if err := docs.SaveFileTree(ctx, testProject, FileTree{}); !errors.Is(err, ErrDocumentPersist) {
		t.Errorf("expected ErrDocumentPersist, got %v", err)
	}
}

func TestDocuments_Participants(t *testing.T) {
	_, docs := newFakeHub(t)
	people, err := docs.Participants(context.Background(), testProject)
	if err != nil {
		t.Fatal(err)
	}
	want := protocol.Sender{ID: "u1", Email: "a@x.io"}
	if len(people) != 1 || people[0] != want {
		t.Errorf("participants = %v", people)
	}
}

func TestFileTreeContents(t *testing.T) {
	tree := FileTree{
		"ok.txt":  json.RawMessage(`{"file":{"contents":"hi"}}`),
		"odd.txt": json.RawMessage(`42`),
	}
	if c, ok := tree.Contents("ok.txt"); !ok || c != "hi" {
		t.Errorf("ok.txt = %q, %v", c, ok)
	}
	if _, ok := tree.Contents("odd.txt"); ok {
		t.Error("non-object leaf should not report contents")
	}
	if _, ok := tree.Contents("missing"); ok {
		t.Error("missing path should not report contents")
	}
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/syncroom/syncroom/pkg/protocol"
)

// ErrDocumentPersist is returned when the hub could not store a file tree.
var ErrDocumentPersist = errors.New("document persist failed")

// FileTree maps file paths to leaf records such as
// {"file": {"contents": "..."}}.
type FileTree map[string]json.RawMessage

// Contents returns the text of a conventional leaf at path.
func (t FileTree) Contents(path string) (string, bool) {
	raw, ok := t[path]
	if !ok {
		return "", false
	}
	var leaf struct {
		File struct {
			Contents string `json:"contents"`
		} `json:"file"`
	}
	if err := json.Unmarshal(raw, &leaf); err != nil {
		return "", false
	}
	return leaf.File.Contents, true
}

// Documents talks to the hub's HTTP document routes.
type Documents struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string
	HTTP    *http.Client
}

// NewDocuments creates a Documents client with a bounded request timeout.
func NewDocuments(baseURL, token string) *Documents {
	return &Documents{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *Documents) projectURL(projectID, suffix string) string {
	return d.BaseURL + "/api/projects/" + url.PathEscape(projectID) + suffix
}

func (d *Documents) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		switch e.Error {
		case protocol.RejectInvalidProjectReference:
			return ErrInvalidProjectReference
		case protocol.RejectProjectNotFound:
			return ErrProjectNotFound
		case protocol.RejectUnauthenticated:
			return ErrUnauthenticated
		case "DocumentPersistError":
			return ErrDocumentPersist
		}
		return fmt.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(e.Error))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// FileTree pulls the project's current document.
func (d *Documents) FileTree(ctx context.Context, projectID string) (FileTree, error) {
	var resp struct {
		FileTree FileTree `json:"fileTree"`
	}
	if err := d.do(ctx, http.MethodGet, d.projectURL(projectID, "/file-tree"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.FileTree == nil {
		resp.FileTree = FileTree{}
	}
	return resp.FileTree, nil
}

// SaveFileTree replaces the project's document with tree.
func (d *Documents) SaveFileTree(ctx context.Context, projectID string, tree FileTree) error {
	if tree == nil {
		tree = FileTree{}
	}
	body := map[string]FileTree{"fileTree": tree}
	return d.do(ctx, http.MethodPut, d.projectURL(projectID, "/file-tree"), body, nil)
}

// Participants lists the users currently connected to the project room.
func (d *Documents) Participants(ctx context.Context, projectID string) ([]protocol.Sender, error) {
	var people []protocol.Sender
	if err := d.do(ctx, http.MethodGet, d.projectURL(projectID, "/participants"), nil, &people); err != nil {
		return nil, err
	}
	return people, nil
}

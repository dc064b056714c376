// Package store defines the session directory consulted by the hub and
// provides SQLite, PostgreSQL and MongoDB implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrProjectNotFound is returned by file-tree operations on an unknown project.
var ErrProjectNotFound = errors.New("project not found")

// Directory is the persistence interface the hub reads projects from and
// writes file-tree documents to. Membership is never mutated by the hub.
type Directory interface {
	// FindProject returns (nil, nil) when no project matches ref.
	FindProject(ctx context.Context, ref string) (*Project, error)
	GetFileTree(ctx context.Context, projectID string) (FileTree, error)
	// PutFileTree replaces the whole document. The last write wins.
	PutFileTree(ctx context.Context, projectID string, tree FileTree) error

	// CreateProject seeds a project; used by the CLI and tests.
	CreateProject(ctx context.Context, p *Project) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Project is a collaboration project and its shared document.
type Project struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Members   []string  `json:"users"`
	FileTree  FileTree  `json:"fileTree"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMember reports whether userID is listed on the project.
func (p *Project) IsMember(userID string) bool {
	for _, m := range p.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// FileTree maps path-like keys to leaf records. Leaves are kept as raw JSON
// so whatever shape the client stores round-trips untouched.
type FileTree map[string]json.RawMessage

// Leaf is the conventional leaf shape: {"file": {"contents": "..."}}.
type Leaf struct {
	File struct {
		Contents string `json:"contents"`
	} `json:"file"`
}

// NewLeaf builds a conventional leaf holding contents.
func NewLeaf(contents string) json.RawMessage {
	var l Leaf
	l.File.Contents = contents
	b, _ := json.Marshal(l)
	return b
}

// Contents returns the textual contents of the leaf at path, if it has the
// conventional shape.
func (t FileTree) Contents(path string) (string, bool) {
	raw, ok := t[path]
	if !ok {
		return "", false
	}
	var l Leaf
	if err := json.Unmarshal(raw, &l); err != nil {
		return "", false
	}
	return l.File.Contents, true
}

func encodeTree(t FileTree) (string, error) {
	if t == nil {
		return "{}", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTree(s string) (FileTree, error) {
	tree := FileTree{}
	if s == "" {
		return tree, nil
	}
	if err := json.Unmarshal([]byte(s), &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

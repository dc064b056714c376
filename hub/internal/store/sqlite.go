package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Directory using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			file_tree TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS project_members (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			PRIMARY KEY (project_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_project_members_user ON project_members(user_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	tree, err := encodeTree(p.FileTree)
	if err != nil {
		return fmt.Errorf("encode file tree: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO projects (id, name, file_tree, updated_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, tree, p.UpdatedAt); err != nil {
		return err
	}
	for _, m := range p.Members {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO project_members (project_id, user_id) VALUES (?, ?)",
			p.ID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindProject(ctx context.Context, ref string) (*Project, error) {
	var p Project
	var tree string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, file_tree, updated_at FROM projects WHERE id = ?", ref,
	).Scan(&p.ID, &p.Name, &tree, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.FileTree, err = decodeTree(tree); err != nil {
		return nil, fmt.Errorf("decode file tree: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM project_members WHERE project_id = ? ORDER BY user_id", ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		p.Members = append(p.Members, uid)
	}
	return &p, rows.Err()
}

func (s *SQLiteStore) GetFileTree(ctx context.Context, projectID string) (FileTree, error) {
	var tree string
	err := s.db.QueryRowContext(ctx,
		"SELECT file_tree FROM projects WHERE id = ?", projectID,
	).Scan(&tree)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTree(tree)
}

func (s *SQLiteStore) PutFileTree(ctx context.Context, projectID string, tree FileTree) error {
	encoded, err := encodeTree(tree)
	if err != nil {
		return fmt.Errorf("encode file tree: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET file_tree = ?, updated_at = ? WHERE id = ?",
		encoded, time.Now().UTC(), projectID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

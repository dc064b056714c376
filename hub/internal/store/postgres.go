package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Directory using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runPostgresMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// runPostgresMigrations applies the embedded migrations on a dedicated
// connection, since closing the migrator closes the database it was given.
func runPostgresMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
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
		"INSERT INTO projects (id, name, file_tree, updated_at) VALUES ($1, $2, $3::jsonb, $4)",
		p.ID, p.Name, tree, p.UpdatedAt); err != nil {
		return err
	}
	for _, m := range p.Members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO project_members (project_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			p.ID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) FindProject(ctx context.Context, ref string) (*Project, error) {
	var p Project
	var tree string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, file_tree::text, updated_at FROM projects WHERE id = $1", ref,
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
		"SELECT user_id FROM project_members WHERE project_id = $1 ORDER BY user_id", ref)
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

func (s *PostgresStore) GetFileTree(ctx context.Context, projectID string) (FileTree, error) {
	var tree string
	err := s.db.QueryRowContext(ctx,
		"SELECT file_tree::text FROM projects WHERE id = $1", projectID,
	).Scan(&tree)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeTree(tree)
}

func (s *PostgresStore) PutFileTree(ctx context.Context, projectID string, tree FileTree) error {
	encoded, err := encodeTree(tree)
	if err != nil {
		return fmt.Errorf("encode file tree: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET file_tree = $1::jsonb, updated_at = $2 WHERE id = $3",
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

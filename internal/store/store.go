// Package store provides the durable local store backing the sync
// engine: tasks, projects, the mutation queue, and a small metadata
// table, persisted in an embedded SQLite database.
//
// The store is the sole source of truth while offline. Every exported
// operation runs as its own transaction; the combined entity+queue
// writes (PutTaskAndEnqueue and friends) span both tables inside one
// transaction so a crash can never leave an applied local mutation
// without its queue entry.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devfocus/devfocus/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection holding all local state.
type Store struct {
	conn   *sql.DB
	path   string
	closed bool
}

// Open creates a store at the given path. The database is opened in
// embedded mode with WAL for concurrent reads and created along with
// the schema if it does not exist.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// initSchema creates the tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,  -- JSON document
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL  -- JSON document
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,       -- task | project
		action TEXT NOT NULL,       -- create | update | delete
		payload TEXT,               -- JSON snapshot, NULL for delete
		entity_id TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_queue_enqueued ON sync_queue(enqueued_at);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// ===== Tasks =====

// PutTask inserts or updates a single task.
func (s *Store) PutTask(ctx context.Context, task *model.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	query := `
	INSERT INTO tasks (id, data, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, task.ID, string(data), task.CreatedAt, task.UpdatedAt); err != nil {
		return fmt.Errorf("failed to put task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a single task by id.
// Returns sql.ErrNoRows if the task is not found.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var data string
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, err
	}
	var task model.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
	}
	return &task, nil
}

// GetAllTasks returns every task ordered newest-first by creation time.
func (s *Store) GetAllTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT data FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		var task model.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTask removes a task. Returns nil if the task doesn't exist.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// TaskCount returns the number of stored tasks.
func (s *Store) TaskCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// ReplaceTasks atomically replaces the whole task collection with the
// given snapshot. Either the entire batch becomes visible or none of
// it, so readers never observe a torn collection.
func (s *Store) ReplaceTasks(ctx context.Context, tasks []*model.Task) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			task.ID, string(data), task.CreatedAt, task.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task replacement: %w", err)
	}
	return nil
}

// ===== Projects =====

// PutProject inserts or updates a single project.
func (s *Store) PutProject(ctx context.Context, project *model.Project) error {
	if err := project.Validate(); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}
	query := `
	INSERT INTO projects (id, data) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`
	if _, err := s.conn.ExecContext(ctx, query, project.ID, string(data)); err != nil {
		return fmt.Errorf("failed to put project %s: %w", project.ID, err)
	}
	return nil
}

// GetProject retrieves a single project by id.
// Returns sql.ErrNoRows if the project is not found.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var data string
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM projects WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, err
	}
	var project model.Project
	if err := json.Unmarshal([]byte(data), &project); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project %s: %w", id, err)
	}
	return &project, nil
}

// GetAllProjects returns every stored project.
func (s *Store) GetAllProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT data FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		var project model.Project
		if err := json.Unmarshal([]byte(data), &project); err != nil {
			return nil, fmt.Errorf("failed to unmarshal project: %w", err)
		}
		projects = append(projects, &project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// DeleteProject removes a project. Tasks referencing it are left
// untouched; their projectId dangles by design.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	return nil
}

// ProjectCount returns the number of stored projects.
func (s *Store) ProjectCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}

// ReplaceProjects atomically replaces the whole project collection.
func (s *Store) ReplaceProjects(ctx context.Context, projects []*model.Project) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects`); err != nil {
		return fmt.Errorf("failed to clear projects: %w", err)
	}
	for _, project := range projects {
		data, err := json.Marshal(project)
		if err != nil {
			return fmt.Errorf("failed to marshal project %s: %w", project.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, data) VALUES (?, ?)`,
			project.ID, string(data)); err != nil {
			return fmt.Errorf("failed to insert project %s: %w", project.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit project replacement: %w", err)
	}
	return nil
}

// ===== Metadata =====

// GetMetadata returns the value stored under key, or "" if absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores a value under key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value, model.NowMillis()); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

package workflowstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/wfsync/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no workflow has the requested name
var ErrNotFound = errors.New("workflow not found")

// Store provides SQLite-backed persistence of workflow definitions.
// Schedules are always recomputed and never stored.
type Store struct {
	db *sql.DB
}

// Summary is a stored workflow without its task and edge lists
type Summary struct {
	Name        string    `json:"name"`
	Method      string    `json:"method,omitempty"`
	MaxParallel int       `json:"max_parallel,omitempty"`
	Tasks       int       `json:"tasks"`
	Edges       int       `json:"dependencies"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared between queries.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertWorkflow inserts a workflow or replaces the stored definition of
// the same name. The workflow must already be valid.
func (s *Store) UpsertWorkflow(wf *domain.Workflow) error {
	if wf.Name == "" {
		return &domain.ConfigError{Field: "name", Message: "stored workflows need a name"}
	}
	if err := wf.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO workflows (name, method, max_parallel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			method = excluded.method,
			max_parallel = excluded.max_parallel,
			updated_at = excluded.updated_at
	`, wf.Name, wf.Method, wf.MaxParallel, now, now)
	if err != nil {
		return fmt.Errorf("upserting workflow %s: %w", wf.Name, err)
	}

	if _, err := tx.Exec(`DELETE FROM tasks WHERE workflow = ?`, wf.Name); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dependencies WHERE workflow = ?`, wf.Name); err != nil {
		return err
	}

	for i, t := range wf.Tasks {
		_, err := tx.Exec(`
			INSERT INTO tasks (workflow, position, id, name, duration, resources)
			VALUES (?, ?, ?, ?, ?, ?)
		`, wf.Name, i, t.ID, t.Name, t.Duration, t.ResourceCost)
		if err != nil {
			return fmt.Errorf("inserting task %s: %w", t.ID, err)
		}
	}
	for i, e := range wf.Edges {
		_, err := tx.Exec(`
			INSERT INTO dependencies (workflow, position, from_task, to_task)
			VALUES (?, ?, ?, ?)
		`, wf.Name, i, e.From, e.To)
		if err != nil {
			return fmt.Errorf("inserting dependency %s: %w", e, err)
		}
	}

	return tx.Commit()
}

// GetWorkflow loads a workflow with tasks and edges in their original order
func (s *Store) GetWorkflow(name string) (*domain.Workflow, error) {
	wf := &domain.Workflow{Name: name}
	var method sql.NullString
	err := s.db.QueryRow(`SELECT method, max_parallel FROM workflows WHERE name = ?`, name).
		Scan(&method, &wf.MaxParallel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	wf.Method = method.String

	rows, err := s.db.Query(`
		SELECT id, name, duration, resources FROM tasks
		WHERE workflow = ? ORDER BY position
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges, err := s.db.Query(`
		SELECT from_task, to_task FROM dependencies
		WHERE workflow = ? ORDER BY position
	`, name)
	if err != nil {
		return nil, err
	}
	defer edges.Close()
	for edges.Next() {
		var e domain.Edge
		if err := edges.Scan(&e.From, &e.To); err != nil {
			return nil, err
		}
		wf.Edges = append(wf.Edges, e)
	}

	return wf, edges.Err()
}

// ListWorkflows returns a summary of every stored workflow, ordered by name
func (s *Store) ListWorkflows() ([]Summary, error) {
	rows, err := s.db.Query(`
		SELECT w.name, w.method, w.max_parallel, w.updated_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.workflow = w.name),
			(SELECT COUNT(*) FROM dependencies d WHERE d.workflow = w.name)
		FROM workflows w
		ORDER BY w.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var method sql.NullString
		var updated sql.NullTime
		if err := rows.Scan(&sum.Name, &method, &sum.MaxParallel, &updated, &sum.Tasks, &sum.Edges); err != nil {
			return nil, err
		}
		sum.Method = method.String
		sum.UpdatedAt = updated.Time
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes a workflow and its tasks and edges
func (s *Store) DeleteWorkflow(name string) error {
	res, err := s.db.Exec(`DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func scanTask(rows *sql.Rows) (domain.Task, error) {
	var t domain.Task
	var name sql.NullString
	if err := rows.Scan(&t.ID, &name, &t.Duration, &t.ResourceCost); err != nil {
		return t, err
	}
	t.Name = name.String
	return t, nil
}

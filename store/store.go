// Package store persists the project registry and the discovery history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"picocontrol/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the database handle opened by config.InitDatabase.
type Store struct {
	db  *sql.DB
	now func() time.Time
	// historyLimit caps the discovery log. Zero keeps every row.
	historyLimit int
}

// DefaultHistoryLimit is how many discovery log rows a Store keeps.
const DefaultHistoryLimit = 1000

// Option customizes a Store during construction.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.now = clock
	}
}

// WithHistoryLimit sets how many discovery log rows are kept.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		s.historyLimit = n
	}
}

// New builds a store over db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, historyLimit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveProject inserts or updates a project. Any other project registered at
// the same path is dropped, since re-creating a project replaces it.
func (s *Store) SaveProject(ctx context.Context, rec models.ProjectRecord) error {
	now := s.now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE path = ? AND id <> ?`, rec.Path, rec.ID); err != nil {
		return fmt.Errorf("store: replace project at %s: %w", rec.Path, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, workspace, path, hardware_type, template, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			workspace = excluded.workspace,
			path = excluded.path,
			hardware_type = excluded.hardware_type,
			template = excluded.template,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Name, rec.Workspace, rec.Path, string(rec.HardwareType), string(rec.Template), now, now)
	if err != nil {
		return fmt.Errorf("store: save project %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// MarkStep records that a lifecycle step completed for a project.
func (s *Store) MarkStep(ctx context.Context, projectID, step string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_steps (project_id, step, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(project_id, step) DO UPDATE SET completed_at = excluded.completed_at`,
		projectID, step, now)
	if err != nil {
		return fmt.Errorf("store: mark step %s for %s: %w", step, projectID, err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID)
	return err
}

// ProjectByPath returns the project registered at path.
func (s *Store) ProjectByPath(ctx context.Context, path string) (*models.ProjectRecord, error) {
	return s.queryOne(ctx, `WHERE path = ?`, path)
}

// Project returns the project with the given id.
func (s *Store) Project(ctx context.Context, id string) (*models.ProjectRecord, error) {
	return s.queryOne(ctx, `WHERE id = ?`, id)
}

// ListProjects returns the projects registered for a workspace, oldest first.
func (s *Store) ListProjects(ctx context.Context, workspace string) ([]models.ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectProjects+` WHERE workspace = ? ORDER BY created_at, name`, workspace)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []models.ProjectRecord
	for rows.Next() {
		rec, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Steps, err = s.steps(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteProjectByPath removes the project registered at path and its steps.
func (s *Store) DeleteProjectByPath(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("store: delete project at %s: %w", path, err)
	}
	return nil
}

const selectProjects = `SELECT id, name, workspace, path, hardware_type, template, created_at, updated_at FROM projects`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (models.ProjectRecord, error) {
	var rec models.ProjectRecord
	var hw, tmpl string
	err := row.Scan(&rec.ID, &rec.Name, &rec.Workspace, &rec.Path, &hw, &tmpl, &rec.CreatedAt, &rec.UpdatedAt)
	rec.HardwareType = models.HardwareType(hw)
	rec.Template = models.Template(tmpl)
	return rec, err
}

func (s *Store) queryOne(ctx context.Context, where string, arg any) (*models.ProjectRecord, error) {
	rec, err := scanProject(s.db.QueryRowContext(ctx, selectProjects+" "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query project: %w", err)
	}
	if rec.Steps, err = s.steps(ctx, rec.ID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) steps(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step FROM project_steps WHERE project_id = ? ORDER BY completed_at, rowid`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: query steps: %w", err)
	}
	defer rows.Close()

	steps := []string{}
	for rows.Next() {
		var step string
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

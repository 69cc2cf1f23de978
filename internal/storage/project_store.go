package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListProjects returns every non-deleted project visibleTo reports true
// for. Visibility is an authz concern; the query filters only on
// deleted_at (invariant I7).
func (s *PostgresStore) ListProjects(ctx context.Context, visibleTo func(projectID string) bool) ([]Project, error) {
	const q = `
		SELECT id, org_id, slug, decision_schema, config, created_at, deleted_at
		FROM projects
		WHERE deleted_at IS NULL
		ORDER BY slug ASC
	`

	rows, err := s.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []Project

	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan project: %w", err)
		}

		if visibleTo != nil && !visibleTo(project.ID) {
			continue
		}

		projects = append(projects, project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate projects: %w", err)
	}

	return projects, nil
}

// GetProject returns a single non-deleted project by ID.
func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, bool, error) {
	const q = `
		SELECT id, org_id, slug, decision_schema, config, created_at, deleted_at
		FROM projects
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := s.conn.QueryRowContext(ctx, q, projectID)

	project, err := scanProject(row)
	if err != nil {
		if isNoRows(err) {
			return Project{}, false, nil
		}

		return Project{}, false, fmt.Errorf("storage: get project: %w", err)
	}

	return project, true, nil
}

// ActiveDecisionSchema returns the decision schema currently active for
// projectID, used by the ingest engine to validate decision_id and the
// allow_notes gate.
func (s *PostgresStore) ActiveDecisionSchema(ctx context.Context, projectID string) (DecisionSchema, error) {
	const q = `SELECT decision_schema FROM projects WHERE id = $1 AND deleted_at IS NULL`

	var raw []byte
	if err := s.conn.QueryRowContext(ctx, q, projectID).Scan(&raw); err != nil {
		if isNoRows(err) {
			return DecisionSchema{}, ErrNotFound
		}

		return DecisionSchema{}, fmt.Errorf("storage: load decision schema: %w", err)
	}

	var schema DecisionSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return DecisionSchema{}, fmt.Errorf("storage: decode decision schema: %w", err)
	}

	return schema, nil
}

// ActiveDecisionSchemaVersion returns just the version number, recorded
// in export manifests (spec §4.7 step 6) without paying for decoding the
// full choice list.
func (s *PostgresStore) ActiveDecisionSchemaVersion(ctx context.Context, projectID string) (int, error) {
	const q = `SELECT (decision_schema->>'version')::int FROM projects WHERE id = $1 AND deleted_at IS NULL`

	var version int
	if err := s.conn.QueryRowContext(ctx, q, projectID).Scan(&version); err != nil {
		if isNoRows(err) {
			return 0, ErrNotFound
		}

		return 0, fmt.Errorf("storage: load decision schema version: %w", err)
	}

	return version, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanProject serve GetProject's single-row path and ListProjects'
// multi-row path with one implementation.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var (
		project    Project
		schemaJSON []byte
		configJSON []byte
	)

	if err := row.Scan(
		&project.ID,
		&project.OrgID,
		&project.Slug,
		&schemaJSON,
		&configJSON,
		&project.CreatedAt,
		&project.DeletedAt,
	); err != nil {
		return Project{}, err
	}

	if err := json.Unmarshal(schemaJSON, &project.DecisionSchema); err != nil {
		return Project{}, fmt.Errorf("decode decision_schema: %w", err)
	}

	if err := json.Unmarshal(configJSON, &project.Config); err != nil {
		return Project{}, fmt.Errorf("decode config: %w", err)
	}

	return project, nil
}

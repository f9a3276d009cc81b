package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrails/agentrailsd/internal/types"
)

// UpsertRepository creates a repository, or updates it in place when one
// with the same normalized remote URL already exists for the scope
// (spec.md section 3: "normalized remote URL stable across updates").
func (s *Store) UpsertRepository(ctx context.Context, scope types.Scope, r types.Repository) (types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM repositories
		WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND remote_url = ? AND archived_at IS NULL
	`, scope.TenantID, scope.UserID, scope.WorkspaceID, r.RemoteURL).Scan(&existingID)

	now := time.Now()
	metaJSON, _ := json.Marshal(r.Metadata)
	kind := types.EventRepositoryCreated

	switch {
	case err == sql.ErrNoRows:
		r.ID = newID("repo")
		r.Scope = scope
		r.CreatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO repositories (id, tenant_id, user_id, workspace_id, name, remote_url, default_branch, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, scope.TenantID, scope.UserID, scope.WorkspaceID, r.Name, r.RemoteURL, r.DefaultBranch, string(metaJSON), now.UnixMilli())
		if err != nil {
			return types.Repository{}, wrapDBError("upsert repository (insert)", err)
		}
	case err != nil:
		return types.Repository{}, wrapDBError("upsert repository (lookup)", err)
	default:
		r.ID = existingID
		r.Scope = scope
		_, err = s.db.ExecContext(ctx, `
			UPDATE repositories SET name = ?, default_branch = ?, metadata = ? WHERE id = ?
		`, r.Name, r.DefaultBranch, string(metaJSON), r.ID)
		if err != nil {
			return types.Repository{}, wrapDBError("upsert repository (update)", err)
		}
		kind = types.EventRepositoryUpdated
	}

	payload, _ := json.Marshal(r)
	if _, err := s.emit(types.Event{
		Kind: kind, Scope: scope, RepositoryID: r.ID,
		ObservedAt: now.UnixMilli(), Payload: payload,
	}); err != nil {
		return types.Repository{}, err
	}
	return r, nil
}

// UpdateRepository applies a partial patch, failing with ErrNotFound if
// the repository does not exist in scope.
func (s *Store) UpdateRepository(ctx context.Context, scope types.Scope, id string, patch types.RepositoryPatch) (types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRepositoryLocked(ctx, scope, id)
	if err != nil {
		return types.Repository{}, err
	}

	if patch.Name != nil {
		r.Name = *patch.Name
	}
	if patch.RemoteURL != nil {
		r.RemoteURL = *patch.RemoteURL
	}
	if patch.DefaultBranch != nil {
		r.DefaultBranch = *patch.DefaultBranch
	}
	if patch.Metadata != nil {
		r.Metadata = patch.Metadata
	}
	metaJSON, _ := json.Marshal(r.Metadata)

	if _, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET name = ?, remote_url = ?, default_branch = ?, metadata = ? WHERE id = ?
	`, r.Name, r.RemoteURL, r.DefaultBranch, string(metaJSON), id); err != nil {
		return types.Repository{}, wrapDBError("update repository", err)
	}

	now := time.Now()
	payload, _ := json.Marshal(r)
	if _, err := s.emit(types.Event{
		Kind: types.EventRepositoryUpdated, Scope: scope, RepositoryID: id,
		ObservedAt: now.UnixMilli(), Payload: payload,
	}); err != nil {
		return types.Repository{}, err
	}
	return r, nil
}

// GetRepository returns a single repository by id within scope.
func (s *Store) GetRepository(ctx context.Context, scope types.Scope, id string) (types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRepositoryLocked(ctx, scope, id)
}

// ArchiveRepository marks a repository archived.
func (s *Store) ArchiveRepository(ctx context.Context, scope types.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET archived_at = ?
		WHERE id = ? AND tenant_id = ? AND user_id = ? AND workspace_id = ? AND archived_at IS NULL
	`, now.UnixMilli(), id, scope.TenantID, scope.UserID, scope.WorkspaceID)
	if err != nil {
		return wrapDBError("archive repository", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("archive repository %s: %w", id, ErrNotFound)
	}

	_, err = s.emit(types.Event{
		Kind: types.EventRepositoryArchived, Scope: scope, RepositoryID: id,
		ObservedAt: now.UnixMilli(),
	})
	return err
}

// ListRepositories returns repositories matching filter.
func (s *Store) ListRepositories(ctx context.Context, filter types.RepositoryFilter) ([]types.Repository, error) {
	query := `
		SELECT id, tenant_id, user_id, workspace_id, name, remote_url, default_branch, metadata, created_at, archived_at
		FROM repositories WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?
	`
	args := []interface{}{filter.Scope.TenantID, filter.Scope.UserID, filter.Scope.WorkspaceID}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list repositories", err)
	}
	defer rows.Close()

	var out []types.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, wrapDBError("iterate repositories", rows.Err())
}

func (s *Store) getRepositoryLocked(ctx context.Context, scope types.Scope, id string) (types.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, workspace_id, name, remote_url, default_branch, metadata, created_at, archived_at
		FROM repositories WHERE id = ? AND tenant_id = ? AND user_id = ? AND workspace_id = ?
	`, id, scope.TenantID, scope.UserID, scope.WorkspaceID)
	return scanRepository(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRepository(row rowScanner) (types.Repository, error) {
	var r types.Repository
	var metaJSON string
	var createdAt int64
	var archivedAt sql.NullInt64
	err := row.Scan(&r.ID, &r.Scope.TenantID, &r.Scope.UserID, &r.Scope.WorkspaceID,
		&r.Name, &r.RemoteURL, &r.DefaultBranch, &metaJSON, &createdAt, &archivedAt)
	if err != nil {
		return types.Repository{}, wrapDBError("scan repository", err)
	}
	_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
	r.CreatedAt = time.UnixMilli(createdAt)
	if archivedAt.Valid {
		t := time.UnixMilli(archivedAt.Int64)
		r.ArchivedAt = &t
	}
	return r, nil
}

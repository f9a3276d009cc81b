package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrails/agentrailsd/internal/types"
)

// UpsertDirectory creates or idempotently re-applies a Directory. A path
// is unique per scope among non-archived rows (spec.md section 3), so a
// second upsert with the same scope+path updates the existing row in
// place rather than creating a duplicate.
func (s *Store) UpsertDirectory(ctx context.Context, scope types.Scope, path string) (types.Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing types.Directory
	var existingCreatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at FROM directories
		WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND path = ? AND archived_at IS NULL
	`, scope.TenantID, scope.UserID, scope.WorkspaceID, path).Scan(&existing.ID, &existingCreatedAt)

	now := time.Now()
	var d types.Directory
	kind := types.EventDirectoryCreated
	switch {
	case err == sql.ErrNoRows:
		d = types.Directory{ID: newID("dir"), Scope: scope, Path: path, CreatedAt: now}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO directories (id, tenant_id, user_id, workspace_id, path, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, d.ID, scope.TenantID, scope.UserID, scope.WorkspaceID, path, now.UnixMilli())
		if err != nil {
			return types.Directory{}, wrapDBError("upsert directory (insert)", err)
		}
	case err != nil:
		return types.Directory{}, wrapDBError("upsert directory (lookup)", err)
	default:
		d = existing
		d.CreatedAt = time.UnixMilli(existingCreatedAt)
		d.Scope = scope
		d.Path = path
		kind = types.EventDirectoryUpdated
	}

	payload, _ := json.Marshal(d)
	if _, err := s.emit(types.Event{
		Kind: kind, Scope: scope, DirectoryID: d.ID,
		ObservedAt: now.UnixMilli(), Payload: payload,
	}); err != nil {
		return types.Directory{}, err
	}
	return d, nil
}

// GetDirectory returns a single non-archived directory by id, for
// callers (the task pull algorithm's OccupancyChecker) that need to
// confirm a directory is tracked without listing the whole scope.
func (s *Store) GetDirectory(ctx context.Context, id string) (types.Directory, error) {
	var d types.Directory
	var createdAt int64
	var archivedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, workspace_id, path, created_at, archived_at
		FROM directories WHERE id = ?
	`, id).Scan(&d.ID, &d.Scope.TenantID, &d.Scope.UserID, &d.Scope.WorkspaceID, &d.Path, &createdAt, &archivedAt)
	if err != nil {
		return types.Directory{}, wrapDBError("get directory", err)
	}
	d.CreatedAt = time.UnixMilli(createdAt)
	if archivedAt.Valid {
		t := time.UnixMilli(archivedAt.Int64)
		d.ArchivedAt = &t
	}
	return d, nil
}

// ArchiveDirectory marks a directory archived. Archiving is terminal:
// a subsequent upsert of the same path creates a fresh row rather than
// resurrecting the archived one (spec.md section 3 invariant).
func (s *Store) ArchiveDirectory(ctx context.Context, scope types.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE directories SET archived_at = ?
		WHERE id = ? AND tenant_id = ? AND user_id = ? AND workspace_id = ? AND archived_at IS NULL
	`, now.UnixMilli(), id, scope.TenantID, scope.UserID, scope.WorkspaceID)
	if err != nil {
		return wrapDBError("archive directory", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("archive directory %s: %w", id, ErrNotFound)
	}

	_, err = s.emit(types.Event{
		Kind: types.EventDirectoryArchived, Scope: scope, DirectoryID: id,
		ObservedAt: now.UnixMilli(),
	})
	return err
}

// ListDirectories returns directories matching filter. Reads do not
// take the store's write lock.
func (s *Store) ListDirectories(ctx context.Context, filter types.DirectoryFilter) ([]types.Directory, error) {
	query := `
		SELECT id, tenant_id, user_id, workspace_id, path, created_at, archived_at
		FROM directories WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?
	`
	args := []interface{}{filter.Scope.TenantID, filter.Scope.UserID, filter.Scope.WorkspaceID}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list directories", err)
	}
	defer rows.Close()

	var out []types.Directory
	for rows.Next() {
		var d types.Directory
		var createdAt int64
		var archivedAt sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Scope.TenantID, &d.Scope.UserID, &d.Scope.WorkspaceID, &d.Path, &createdAt, &archivedAt); err != nil {
			return nil, wrapDBError("scan directory", err)
		}
		d.CreatedAt = time.UnixMilli(createdAt)
		if archivedAt.Valid {
			t := time.UnixMilli(archivedAt.Int64)
			d.ArchivedAt = &t
		}
		out = append(out, d)
	}
	return out, wrapDBError("iterate directories", rows.Err())
}

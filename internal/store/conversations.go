package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrails/agentrailsd/internal/types"
)

// CreateConversation durably records a new agent session. The returned
// Conversation carries zero-valued runtime fields, while the stored
// row's runtime status starts at the schema default "idle"; the Session
// Supervisor and Status Deriver populate them as the PTY comes up.
func (s *Store) CreateConversation(ctx context.Context, scope types.Scope, directoryID, title string, agentType types.AgentType) (types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c := types.Conversation{
		ID: newID("conv"), Scope: scope, DirectoryID: directoryID,
		Title: title, AgentType: agentType, CreatedAt: now,
	}
	adapterJSON, _ := json.Marshal(c.AdapterState)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, user_id, workspace_id, worktree_id, directory_id, title, agent_type, adapter_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, scope.TenantID, scope.UserID, scope.WorkspaceID, scope.WorktreeID, nullableString(directoryID), title, string(agentType), string(adapterJSON), now.UnixMilli())
	if err != nil {
		return types.Conversation{}, wrapDBError("create conversation", err)
	}

	payload, _ := json.Marshal(c)
	if _, err := s.emit(types.Event{
		Kind: types.EventConversationCreated, Scope: scope, ConversationID: c.ID, DirectoryID: directoryID,
		ObservedAt: now.UnixMilli(), Payload: payload,
	}); err != nil {
		return types.Conversation{}, err
	}
	return c, nil
}

// UpdateConversation applies a partial patch to title and/or
// directoryId.
func (s *Store) UpdateConversation(ctx context.Context, scope types.Scope, id string, patch types.ConversationPatch) (types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getConversationLocked(ctx, id)
	if err != nil {
		return types.Conversation{}, err
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.DirectoryID != nil {
		c.DirectoryID = *patch.DirectoryID
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, directory_id = ? WHERE id = ?
	`, c.Title, nullableString(c.DirectoryID), id); err != nil {
		return types.Conversation{}, wrapDBError("update conversation", err)
	}

	now := time.Now()
	payload, _ := json.Marshal(c)
	if _, err := s.emit(types.Event{
		Kind: types.EventConversationUpdated, Scope: scope, ConversationID: id, DirectoryID: c.DirectoryID,
		ObservedAt: now.UnixMilli(), Payload: payload,
	}); err != nil {
		return types.Conversation{}, err
	}
	return c, nil
}

// GetConversation returns a single conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	return s.getConversationLocked(ctx, id)
}

// ApplyAdapterState merges partial adapter state (e.g. the Codex
// providerThreadId observed via telemetry) into the stored conversation.
// A no-op against an archived conversation, per the Status Deriver's
// inertness rule (spec.md section 4.H).
func (s *Store) ApplyAdapterState(ctx context.Context, id string, merge func(*types.AdapterState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getConversationLocked(ctx, id)
	if err != nil {
		return err
	}
	if c.Archived() {
		return nil
	}
	merge(&c.AdapterState)

	adapterJSON, _ := json.Marshal(c.AdapterState)
	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET adapter_state = ? WHERE id = ?`, string(adapterJSON), id)
	return wrapDBError("apply adapter state", err)
}

// RuntimeUpdate carries the mutable runtime projection fields the
// Status Deriver and Session Supervisor maintain on top of the durable
// conversation row (spec.md section 3's "derived runtime fields"). Nil
// fields are left unchanged; Exit is only ever set once, on PTY exit.
type RuntimeUpdate struct {
	Status          *types.RuntimeStatus
	Live            *bool
	AttentionReason *string
	ProcessID       *int
	LastEventAt     *time.Time
	Exit            *types.RuntimeExit
}

// UpdateConversationRuntime persists a runtime projection change and
// emits session-status fan-out when Status changes. It is a no-op
// against an archived conversation (spec.md section 4.H: archived
// conversations are inert).
func (s *Store) UpdateConversationRuntime(ctx context.Context, id string, u RuntimeUpdate) (types.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getConversationLocked(ctx, id)
	if err != nil {
		return types.Conversation{}, false, err
	}
	if c.Archived() {
		return c, false, nil
	}

	statusChanged := false
	if u.Status != nil && *u.Status != c.RuntimeStatus {
		c.RuntimeStatus = *u.Status
		statusChanged = true
	}
	if u.Live != nil {
		c.RuntimeLive = *u.Live
	}
	if u.AttentionReason != nil {
		c.AttentionReason = *u.AttentionReason
	}
	if u.ProcessID != nil {
		c.RuntimeProcessID = *u.ProcessID
	}
	if u.LastEventAt != nil {
		c.RuntimeLastEventAt = *u.LastEventAt
	}
	if u.Exit != nil {
		c.RuntimeLastExit = u.Exit
	}

	var exitCode sql.NullInt64
	var exitSignal sql.NullString
	if c.RuntimeLastExit != nil {
		if c.RuntimeLastExit.Code != nil {
			exitCode = sql.NullInt64{Int64: int64(*c.RuntimeLastExit.Code), Valid: true}
		}
		if c.RuntimeLastExit.Signal != nil {
			exitSignal = sql.NullString{String: *c.RuntimeLastExit.Signal, Valid: true}
		}
	}
	var lastEventAt sql.NullInt64
	if !c.RuntimeLastEventAt.IsZero() {
		lastEventAt = sql.NullInt64{Int64: c.RuntimeLastEventAt.UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET runtime_status = ?, runtime_live = ?, attention_reason = ?,
			runtime_process_id = ?, runtime_last_event_at = ?, runtime_last_exit_code = ?, runtime_last_exit_signal = ?
		WHERE id = ?
	`, string(c.RuntimeStatus), boolToInt(c.RuntimeLive), nullableString(c.AttentionReason),
		nullInt(c.RuntimeProcessID), lastEventAt, exitCode, exitSignal, id)
	if err != nil {
		return types.Conversation{}, false, wrapDBError("update conversation runtime", err)
	}

	if statusChanged {
		payload, _ := json.Marshal(c)
		if _, err := s.emit(types.Event{
			Kind: types.EventConversationUpdated, Scope: c.Scope, ConversationID: id, DirectoryID: c.DirectoryID,
			ObservedAt: time.Now().UnixMilli(), Payload: payload,
		}); err != nil {
			return types.Conversation{}, false, err
		}
	}
	return c, statusChanged, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(v int) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

// ArchiveConversation marks a conversation archived. Archived
// conversations do not emit further fan-out for subsequent runtime
// events (spec.md section 4.H).
func (s *Store) ArchiveConversation(ctx context.Context, scope types.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET archived_at = ? WHERE id = ? AND archived_at IS NULL`, now.UnixMilli(), id)
	if err != nil {
		return wrapDBError("archive conversation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("archive conversation %s: %w", id, ErrNotFound)
	}

	_, err = s.emit(types.Event{
		Kind: types.EventConversationArchived, Scope: scope, ConversationID: id,
		ObservedAt: now.UnixMilli(),
	})
	return err
}

// DeleteConversation permanently removes a conversation row. Unlike
// archiving, deletion is not reversible and is reserved for explicit
// cleanup commands.
func (s *Store) DeleteConversation(ctx context.Context, scope types.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return wrapDBError("delete conversation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete conversation %s: %w", id, ErrNotFound)
	}

	_, err = s.emit(types.Event{
		Kind: types.EventConversationDeleted, Scope: scope, ConversationID: id,
		ObservedAt: time.Now().UnixMilli(),
	})
	return err
}

// ListConversations returns conversations matching filter.
func (s *Store) ListConversations(ctx context.Context, filter types.ConversationFilter) ([]types.Conversation, error) {
	query := `
		SELECT id, tenant_id, user_id, workspace_id, directory_id, title, agent_type, adapter_state,
			runtime_status, runtime_live, attention_reason, runtime_process_id, runtime_last_event_at,
			runtime_last_exit_code, runtime_last_exit_signal, created_at, archived_at
		FROM conversations WHERE 1=1
	`
	var args []interface{}
	if filter.Scope != nil {
		query += ` AND tenant_id = ? AND user_id = ? AND workspace_id = ?`
		args = append(args, filter.Scope.TenantID, filter.Scope.UserID, filter.Scope.WorkspaceID)
	}
	if filter.DirectoryID != "" {
		query += ` AND directory_id = ?`
		args = append(args, filter.DirectoryID)
	}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list conversations", err)
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, wrapDBError("iterate conversations", rows.Err())
}

func (s *Store) getConversationLocked(ctx context.Context, id string) (types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, workspace_id, directory_id, title, agent_type, adapter_state,
			runtime_status, runtime_live, attention_reason, runtime_process_id, runtime_last_event_at,
			runtime_last_exit_code, runtime_last_exit_signal, created_at, archived_at
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

func scanConversation(row rowScanner) (types.Conversation, error) {
	var c types.Conversation
	var directoryID, attentionReason, exitSignal sql.NullString
	var adapterJSON, runtimeStatus string
	var runtimeLive int
	var processID, lastEventAt, exitCode, createdAt sql.NullInt64
	var archivedAt sql.NullInt64

	err := row.Scan(&c.ID, &c.Scope.TenantID, &c.Scope.UserID, &c.Scope.WorkspaceID, &directoryID,
		&c.Title, &c.AgentType, &adapterJSON, &runtimeStatus, &runtimeLive, &attentionReason,
		&processID, &lastEventAt, &exitCode, &exitSignal, &createdAt, &archivedAt)
	if err != nil {
		return types.Conversation{}, wrapDBError("scan conversation", err)
	}

	c.DirectoryID = directoryID.String
	_ = json.Unmarshal([]byte(adapterJSON), &c.AdapterState)
	c.RuntimeStatus = types.RuntimeStatus(runtimeStatus)
	c.RuntimeLive = runtimeLive != 0
	c.AttentionReason = attentionReason.String
	if processID.Valid {
		c.RuntimeProcessID = int(processID.Int64)
	}
	if lastEventAt.Valid {
		c.RuntimeLastEventAt = time.UnixMilli(lastEventAt.Int64)
	}
	if exitCode.Valid || exitSignal.Valid {
		exit := &types.RuntimeExit{}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			exit.Code = &code
		}
		if exitSignal.Valid {
			sig := exitSignal.String
			exit.Signal = &sig
		}
		c.RuntimeLastExit = exit
	}
	c.CreatedAt = time.UnixMilli(createdAt.Int64)
	if archivedAt.Valid {
		t := time.UnixMilli(archivedAt.Int64)
		c.ArchivedAt = &t
	}
	return c, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Package types defines the durable and in-memory entities the daemon
// operates on: directories, repositories, conversations, tasks, policies,
// and the runtime/event/subscription shapes layered on top of them.
package types

import "errors"

// Sentinel errors translated at the command dispatcher boundary into the
// exact substrings the wire protocol's command.failed.error carries.
var (
	ErrDirectoryNotFound   = errors.New("directory not found")
	ErrRepositoryNotFound  = errors.New("repository not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrProjectNotFound     = errors.New("project not found")
	ErrThreadNotFound      = errors.New("thread not found")

	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrAlreadyClaimed       = errors.New("task already claimed")

	ErrScopeMismatch = errors.New("task pull scope mismatch")
	ErrMissingScope  = errors.New("requires directoryId or repositoryId")

	ErrMalformedSubscription = errors.New("malformed subscription id")
	ErrMalformedRepository   = errors.New("repository.upsert returned malformed repository")
)

// BlockedReason enumerates why task.pull could not hand out a task even
// though ready tasks exist for the requested scope.
type BlockedReason string

const (
	BlockedUntracked           BlockedReason = "blocked-untracked"
	BlockedDirty               BlockedReason = "blocked-dirty"
	BlockedOccupied            BlockedReason = "blocked-occupied"
	BlockedPinnedBranch        BlockedReason = "blocked-pinned-branch"
	BlockedDisabled            BlockedReason = "blocked-disabled"
	BlockedFrozen              BlockedReason = "blocked-frozen"
	BlockedRepositoryMismatch  BlockedReason = "blocked-repository-mismatch"
)

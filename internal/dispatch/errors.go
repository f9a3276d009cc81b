package dispatch

import (
	"errors"

	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/types"
)

// translate maps a generic store-level sentinel onto the entity-specific
// substring spec.md section 7 names, since the Store itself has no
// notion of which entity kind a NotFound/AlreadyClaimed came from — only
// the calling handler does.
func translate(entity string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundFor(entity)
	case errors.Is(err, store.ErrAlreadyClaimed):
		return types.ErrAlreadyClaimed
	case errors.Is(err, store.ErrScopeMismatch):
		return types.ErrScopeMismatch
	case errors.Is(err, store.ErrMalformedPatch):
		return err
	default:
		return err
	}
}

func notFoundFor(entity string) error {
	switch entity {
	case "directory":
		return types.ErrDirectoryNotFound
	case "repository":
		return types.ErrRepositoryNotFound
	case "conversation":
		return types.ErrConversationNotFound
	case "task":
		return types.ErrTaskNotFound
	case "project":
		return types.ErrProjectNotFound
	case "thread":
		return types.ErrThreadNotFound
	default:
		return types.ErrConversationNotFound
	}
}

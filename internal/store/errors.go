package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors surfaced by store operations. Callers in internal/dispatch
// map these onto command.failed error strings.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrScopeMismatch   = errors.New("scope mismatch")
	ErrOrderConflict   = errors.New("order index conflict")
	ErrMalformedPatch  = errors.New("malformed patch")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows into ErrNotFound so callers can errors.Is against a single
// sentinel regardless of which query surfaced it.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package errors

import (
	"errors"
	"fmt"
)

// Category sentinels. Every error the ledger returns matches exactly one of
// them through errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("transient store failure")
	ErrInvalid   = errors.New("invalid input")
)

var (
	ErrPostNotFound     = fmt.Errorf("forum post %w", ErrNotFound)
	ErrInvalidVoteInput = fmt.Errorf("vote: %w", ErrInvalid)
	ErrInvalidPostInput = fmt.Errorf("post: %w", ErrInvalid)
	ErrPostExists       = fmt.Errorf("forum post already exists: %w", ErrConflict)
	ErrVoteContention   = fmt.Errorf("vote kept changing under concurrent writers: %w", ErrTransient)
	ErrOutboxConflict   = fmt.Errorf("outbox event id reused with different payload: %w", ErrConflict)
)

// Transient marks err as retryable while keeping the cause inspectable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

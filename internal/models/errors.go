package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing item, file or user.
	ErrNotFound = errors.New("not found")
	// ErrNotLocked reports an unlock or content write without a held lock.
	ErrNotLocked = errors.New("not locked by caller")
	// ErrExists reports a duplicate login or item number.
	ErrExists = errors.New("already exists")
	// ErrInvalid reports a malformed request value.
	ErrInvalid = errors.New("invalid request")
)

// LockConflictError reports a lock held by another user.
type LockConflictError struct {
	Holder string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("locked by %s", e.Holder)
}

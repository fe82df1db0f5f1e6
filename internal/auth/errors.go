package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited        = errors.New("auth: rate limit exceeded")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrConflict           = errors.New("auth: resource conflict")
	ErrPermissionDenied   = errors.New("auth: permission denied")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrUnauthorized       = errors.New("auth: unauthorized")
)

// LockedError reports an active lockout together with the time left on it.
type LockedError struct {
	Kind      Kind
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	label := "Account"
	if e.Kind == KindAdmin {
		label = "Admin account"
	}
	return fmt.Sprintf("%s is locked. Please try again in %d minutes.", label, e.RemainingMinutes())
}

// RemainingMinutes truncates the remaining lock time to whole minutes.
func (e *LockedError) RemainingMinutes() int {
	return int(e.Remaining / time.Minute)
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitError carries the wait until the caller's window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	minutes := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	return fmt.Sprintf("Too many login attempts. Please try again after %d minutes.", minutes)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ConflictError names the unique field that collided.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func newConflict(field, message string) error {
	return &ConflictError{Field: field, Message: message}
}

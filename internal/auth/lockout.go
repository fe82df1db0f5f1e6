package auth

import (
	"context"
	"fmt"
	"time"
)

// LockoutTracker keeps the durable failed-attempt counter and lock expiry of
// a principal. The lock duration is fixed; repeated trips do not escalate.
type LockoutTracker struct {
	store       PrincipalStore
	maxAttempts int
	duration    time.Duration
	now         func() time.Time
}

// NewLockoutTracker locks a principal for duration once maxAttempts
// consecutive failures have been recorded.
func NewLockoutTracker(store PrincipalStore, maxAttempts int, duration time.Duration, now func() time.Time) *LockoutTracker {
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{
		store:       store,
		maxAttempts: maxAttempts,
		duration:    duration,
		now:         now,
	}
}

// IsLocked reports whether p is locked at now.
func (t *LockoutTracker) IsLocked(p *Principal, now time.Time) bool {
	return p.Locked(now)
}

// Remaining returns the time left on p's lock at now.
func (t *LockoutTracker) Remaining(p *Principal, now time.Time) time.Duration {
	if !p.Locked(now) {
		return 0
	}
	return p.LockedUntil.Sub(now)
}

// RecordFailure increments the counter and sets the lock when it reaches the
// threshold. It reports whether this failure tripped the lock.
func (t *LockoutTracker) RecordFailure(ctx context.Context, p *Principal) (bool, error) {
	count, err := t.store.IncrementFailedAttempts(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("increment failed attempts: %w", err)
	}
	p.FailedAttempts = count
	if t.maxAttempts <= 0 || count < t.maxAttempts {
		return false, nil
	}
	until := t.now().UTC().Add(t.duration)
	if err := t.store.SetLockedUntil(ctx, p.ID, &until); err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	p.LockedUntil = &until
	return true, nil
}

// RecordSuccess clears the counter and any lock. It is a no-op when the
// counter is already zero.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, p *Principal) error {
	if p.FailedAttempts <= 0 {
		return nil
	}
	if err := t.store.ResetFailedAttempts(ctx, p.ID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	return nil
}

// Unlock clears the counter and lock regardless of their current values.
func (t *LockoutTracker) Unlock(ctx context.Context, p *Principal) error {
	if err := t.store.ResetFailedAttempts(ctx, p.ID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	return nil
}

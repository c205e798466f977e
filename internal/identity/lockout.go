package identity

import "time"

// LockoutPolicy locks an account once MaxAttempts consecutive login attempts
// have been counted. Each further counted failure doubles the lock, up to Max.
type LockoutPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Locked reports whether lockUntil is still in the future.
func (p LockoutPolicy) Locked(lockUntil *time.Time, now time.Time) bool {
	return lockUntil != nil && now.Before(*lockUntil)
}

// LockFor returns the lock deadline for an attempt count, or nil while the
// count is below MaxAttempts.
func (p LockoutPolicy) LockFor(attempts int, now time.Time) *time.Time {
	if p.MaxAttempts <= 0 || attempts < p.MaxAttempts {
		return nil
	}
	d := p.Base
	for i := p.MaxAttempts; i < attempts; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			break
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	until := now.Add(d)
	return &until
}

package identity

import "errors"

var (
	// ErrNotFound is returned by the stores when no record matches.
	ErrNotFound = errors.New("identity: record not found")
	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("identity: duplicate record")
	// ErrLocked is returned by ClaimLoginAttempt while lock_until is in the future.
	ErrLocked = errors.New("identity: account locked")

	ErrIdentityNotFound  = errors.New("identity not recognized")
	ErrPendingApproval   = errors.New("identity pending board approval")
	ErrNotActivated      = errors.New("identity not activated")
	ErrUnknownCapability = errors.New("unknown capability")
)

// GateMessage is the single client-facing message for both gate outcomes.
const GateMessage = "Account awaiting board approval or activation"

// IsGateError reports whether err came from the activation gate.
func IsGateError(err error) bool {
	return errors.Is(err, ErrPendingApproval) || errors.Is(err, ErrNotActivated)
}

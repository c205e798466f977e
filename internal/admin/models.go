package admin

import "time"

type GrantRequest struct {
	Permissions map[string]bool `json:"permissions"`
}

type CreateOperatorRequest struct {
	Email        string          `json:"email"`
	Password     string          `json:"password"`
	IsSuperAdmin bool            `json:"isSuperAdmin"`
	Permissions  map[string]bool `json:"permissions,omitempty"`
}

type StatusRequest struct {
	Active *bool `json:"active"`
}

// Approval describes an issued activation link.
type Approval struct {
	MemberID  string    `json:"memberId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reissued  bool      `json:"reissued"`
	EmailSent bool      `json:"emailSent"`
}

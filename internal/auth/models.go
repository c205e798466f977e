package auth

import (
	"time"

	"SocietyPortal/internal/identity"
)

type LoginRequest struct {
	// Identifier is an email address or a roll number.
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type RegisterRequest struct {
	FullName     string `json:"fullName"`
	RollNumber   string `json:"rollNumber"`
	ContactEmail string `json:"contactEmail"`
}

type ActivateRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// LoginResult is returned by Login and ChangePassword.
type LoginResult struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Identity  identity.Session `json:"identity"`
}

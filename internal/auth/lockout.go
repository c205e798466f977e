package auth

import (
	"SocietyPortal/internal/config"
	"SocietyPortal/internal/identity"
)

func NewLockoutPolicy(cfg *config.Config) identity.LockoutPolicy {
	return identity.LockoutPolicy{
		MaxAttempts: cfg.Auth.MaxLoginAttempts,
		Base:        cfg.Auth.LockoutBase,
		Max:         cfg.Auth.LockoutMax,
	}
}

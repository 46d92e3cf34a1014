package domain

import "errors"

// Sentinel error kinds. APIs wrap these with context via fmt.Errorf("...: %w", ...)
// so callers can branch with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyRegistered   = errors.New("already registered")
	ErrAlreadyClaimed      = errors.New("already claimed")
	ErrVersionMismatch     = errors.New("version mismatch")
	ErrIneligible          = errors.New("agent ineligible")
	ErrDependenciesPending = errors.New("dependencies pending")
	ErrExpired             = errors.New("expired")
	ErrInvalid             = errors.New("invalid")
)

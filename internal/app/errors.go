package app

import "errors"

var (
	// ErrInvalidInput indicates a request that failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoFamily indicates a family-scoped operation by a user without one.
	ErrNoFamily = errors.New("user has no family")
	// ErrAdminOnly indicates the caller is not on the admin allowlist.
	ErrAdminOnly = errors.New("admin access required")
)

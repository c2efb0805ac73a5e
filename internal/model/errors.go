package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrNotConfigured marks terminal configuration problems, e.g. an account
	// whose CRM channel credentials are not connected. Never retried.
	ErrNotConfigured = errors.New("not configured")
)

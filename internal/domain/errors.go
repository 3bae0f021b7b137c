package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidPlan is returned when an iteration plan is requested with a
	// non-positive page target or page budget.
	ErrInvalidPlan = errors.New("invalid plan: page counts must be positive")
)

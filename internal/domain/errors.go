package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrNoTarget means the recipient has no deliverable push address. Terminal, never retried.
	ErrNoTarget = fmt.Errorf("no push target: %w", ErrNotFound)
	// ErrAlreadyTerminal is returned when a terminal write loses to an earlier one.
	ErrAlreadyTerminal = fmt.Errorf("notification already resolved: %w", ErrConflict)
)

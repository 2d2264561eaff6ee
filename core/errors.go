package core

import "errors"

// Sentinel errors shared between stores, handlers and the session engine.
// Wrap with fmt.Errorf("...: %w", err) so callers can classify.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed requests, rejected before any provider call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream marks an exhausted-retry failure of a search or cache backend.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrGraphUnavailable marks a graph-service failure while the caller
	// explicitly asked for graph enrichment. Never degraded silently.
	ErrGraphUnavailable = errors.New("graph enhancement unavailable")
	// ErrTimeout marks a bounded wait that expired, kept distinct from
	// ErrUpstream so callers can decide whether to retry.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotFound marks a missing document reference.
	ErrNotFound = errors.New("not found")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

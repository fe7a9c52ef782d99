package gram

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRedirected is returned when a redirect is set on a vertex
	// that already has one.
	ErrAlreadyRedirected = errors.New("word gram already redirected")
	ErrSelfRedirect      = errors.New("word gram cannot redirect to itself")
	// ErrRedirected is returned for writes addressed to a merged-away
	// vertex. Match *RedirectedError to get the canonical target.
	ErrRedirected = errors.New("word gram is redirected")
	// ErrCorruptRedirectChain means a redirect chain has a cycle, a dangling
	// target or too many hops. It indicates prior data corruption.
	ErrCorruptRedirectChain = errors.New("corrupt redirect chain")
	ErrInvalidSize          = errors.New("word gram size out of range")
	ErrNotFound             = errors.New("word gram not found")
)

// RedirectedError reports a write to a merged-away vertex.
type RedirectedError struct {
	ID     string
	Target string
}

func (e *RedirectedError) Error() string {
	return fmt.Sprintf("word gram %s is redirected to %s", e.ID, e.Target)
}

func (e *RedirectedError) Is(target error) bool {
	return target == ErrRedirected
}

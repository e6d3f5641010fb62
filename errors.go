package brighter

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error kinds surfaced by the façade. Wrap with fmt.Errorf("%w: ...", kind)
// so callers can match with errors.Is.
var (
	// ErrConfiguration indicates a missing collaborator (factory, outbox,
	// producer, mapper, reply subscription) for the requested operation.
	ErrConfiguration = errors.New("brighter: missing configuration")

	// ErrContract indicates the caller violated an invariant, such as a
	// handler-count rule or a non-positive Call timeout.
	ErrContract = errors.New("brighter: contract violation")

	// ErrNotFound indicates an outbox id with no corresponding entry.
	ErrNotFound = errors.New("brighter: not found")

	// ErrChannelClosed indicates a receive on a closed response channel.
	ErrChannelClosed = errors.New("brighter: channel closed")

	// ErrProcessorClosed indicates an operation on a closed processor.
	ErrProcessorClosed = errors.New("brighter: command processor closed")
)

func configurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func contractError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...))
}

func notFoundError(id uuid.UUID) error {
	return fmt.Errorf("%w: no outbox entry for message %s", ErrNotFound, id)
}

// PublishError aggregates handler failures from a Publish fan-out. The inner
// errors keep registration order.
type PublishError struct {
	Errs []error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("brighter: %d of the published event's handlers failed: %v", len(e.Errs), errors.Join(e.Errs...))
}

// Unwrap exposes the inner failures to errors.Is / errors.As.
func (e *PublishError) Unwrap() []error { return e.Errs }

// CircularDependencyError reports a cycle in declared middleware.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("brighter: circular middleware declaration: %v", e.Path)
}

func (e *CircularDependencyError) Unwrap() error { return ErrConfiguration }

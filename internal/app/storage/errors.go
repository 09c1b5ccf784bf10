package storage

import "fmt"

// NotFoundError reports a missing entity by kind and id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func errNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ErrAgentNotFound is exported for callers outside this package (envelope,
// actions) that need to construct the same NotFoundError shape.
func ErrAgentNotFound(id string) error {
	return errNotFound("agent", id)
}

package store

import "fmt"

// NotFoundError is returned when a collection or a record does not exist.
type NotFoundError struct {
	Collection string
	// ID is empty when the collection itself is unknown.
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("collection %q not found", e.Collection)
	}
	return fmt.Sprintf("%s %q not found", e.Collection, e.ID)
}

// PersistenceError is returned when a collection could not be durably
// written. The collection is left as it was before the failed operation.
type PersistenceError struct {
	Collection string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

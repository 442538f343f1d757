package docstore

import "fmt"

// ErrNotFound is returned when no document matches a lookup.
type ErrNotFound struct {
	Collection string
	Key        string
}

func (e *ErrNotFound) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("no document matched in collection %s", e.Collection)
	}
	return fmt.Sprintf("document not found: %s/%s", e.Collection, e.Key)
}

// ErrDuplicate is returned when inserting a document whose id already
// exists in the collection.
type ErrDuplicate struct {
	Collection string
	Key        string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("document already exists: %s/%s", e.Collection, e.Key)
}

// ErrRateLimited is returned when the collection's operation limiter
// rejects the call. Callers treat it like any other transient
// persistence failure.
type ErrRateLimited struct {
	Collection string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("operation rate limit exceeded for collection %s", e.Collection)
}

// ErrInternal wraps a backend failure.
type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}

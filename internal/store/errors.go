package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// StoreError wraps a persistence failure. It always aborts the enclosing
// transaction and callers treat it as non-retryable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError reports a reference to an unknown row (bad chat or
// message id). Non-retryable, surfaced to the caller as-is.
type ValidationError struct {
	Entity string
	ID     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unknown %s: %s", e.Entity, e.ID)
}

func IsNotFound(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func notFoundOr(op, entity, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ValidationError{Entity: entity, ID: id}
	}
	return wrap(op, err)
}

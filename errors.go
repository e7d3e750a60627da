package main

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record is not found in the store.
var ErrNotFound = errors.New("item not found")

// ErrInvalidInput is returned when the input payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrStorageUnavailable wraps every I/O failure of the record store and the blob store.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrConflict is returned when a blob path is already taken. Uploads are create-only.
var ErrConflict = errors.New("blob path already exists")

// ErrObjectTooLarge is returned when a blob exceeds the configured maximum size.
var ErrObjectTooLarge = errors.New("object too large")

// ValidationError reports a rejected field. It matches ErrInvalidInput with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// Package apperr holds the sentinel errors shared by the service layers.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when the graph owner's queue is full.
	ErrBusy = errors.New("busy")
	// ErrStopped is returned once the graph owner has shut down.
	ErrStopped = errors.New("stopped")
	ErrInvalid = errors.New("invalid request")
)

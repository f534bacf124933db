// Package storage holds errors shared by the memory and postgres stores.
package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrChainConflict is returned when an entry does not extend the current
	// tail of its chain, which would fork the chain.
	ErrChainConflict = errors.New("chain conflict: previous hash is not the chain tail")

	// ErrInvalidInput is returned for malformed records.
	ErrInvalidInput = errors.New("invalid input")
)

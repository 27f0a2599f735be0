// Package vectorstore provides the Qdrant-backed implementation of the
// memory.Repository persistence interface.
package vectorstore

import "errors"

var (
	// ErrInvalidConfig indicates invalid repository configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the Qdrant client could not connect.
	ErrConnectionFailed = errors.New("connection to vector store failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's configured size. This is a configuration error, not a
	// transient one.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrDeleteIncomplete indicates the store did not report a completed
	// delete operation.
	ErrDeleteIncomplete = errors.New("delete operation not completed")
)

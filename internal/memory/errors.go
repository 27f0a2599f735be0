package memory

import "errors"

var (
	// ErrNotFound indicates the memory does not exist or belongs to a
	// different tenant. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidScope indicates a scope outside the supported enumeration.
	ErrInvalidScope = errors.New("invalid memory scope")

	// ErrDuplicateMemory is reserved for a future strict-dedup surface.
	// Deduplication is currently silent.
	ErrDuplicateMemory = errors.New("duplicate memory")

	// ErrConfiguration indicates invalid runtime configuration, such as an
	// embedding dimension that does not match the collection vector size.
	ErrConfiguration = errors.New("invalid configuration")
)

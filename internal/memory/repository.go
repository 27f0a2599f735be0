package memory

import "context"

// SearchQuery describes a tenant-scoped nearest-neighbor search.
type SearchQuery struct {
	OrgID   string
	AgentID string
	// Scope narrows results to one memory scope when non-empty.
	Scope string
	// Tags narrows results to records carrying any of these tags.
	Tags  []string
	Limit int
	// EfSearch overrides the HNSW ef parameter when positive.
	EfSearch int
}

// Repository is the persistence interface the core depends on. The
// production implementation lives in internal/vectorstore; tests use a
// double.
type Repository interface {
	// EnsureCollection idempotently creates the collection and its payload
	// indexes.
	EnsureCollection(ctx context.Context) error

	// Upsert writes records by id. Records must carry vectors.
	Upsert(ctx context.Context, records []Record) error

	// Search returns the top hits by cosine similarity under the tenancy
	// filter, in descending store-score order. No recency decay applied.
	Search(ctx context.Context, vector []float32, q SearchQuery) ([]Hit, error)

	// SearchDecayed blends semantic score with a Gaussian recency decay
	// inside the store. ok is false when the store does not support formula
	// queries; the caller then falls back to Search plus in-process decay.
	SearchDecayed(ctx context.Context, vector []float32, q SearchQuery) (hits []Hit, ok bool, err error)

	// Get retrieves one record by id, payload only. No tenant filter: the
	// core checks tenancy on the result.
	Get(ctx context.Context, id string) (*Record, error)

	// GetMany retrieves records by id, payload only, no tenant filter.
	GetMany(ctx context.Context, ids []string) ([]Record, error)

	// Delete hard-deletes one record.
	Delete(ctx context.Context, id string) error

	// DeleteMany hard-deletes records by id.
	DeleteMany(ctx context.Context, ids []string) error

	// SetPayload overwrites the payload on an existing record.
	SetPayload(ctx context.Context, record Record) error

	// SoftDelete marks a record deleted and refreshes updated_at. Returns
	// false when the record does not exist.
	SoftDelete(ctx context.Context, id string) (bool, error)

	// FindByHash returns at most one record matching the dedup hash within
	// the tenant.
	FindByHash(ctx context.Context, hash, orgID, agentID string) (*Record, error)

	// ListRecent returns records under the tenancy filter, most recently
	// updated first where the store supports ordered scrolling.
	ListRecent(ctx context.Context, orgID, agentID string, limit int, includeDeleted bool) ([]Record, error)

	// SearchText scans the tenant's records for a case-folded substring
	// match on text. O(N) within the tenant; intended for small tenants and
	// admin lookups.
	SearchText(ctx context.Context, orgID, agentID, query string, limit int, includeDeleted bool) ([]Record, error)
}

// RepositoryFactory builds a repository for one collection slot. The core
// caches the result per (collection, vectorSize) key.
type RepositoryFactory func(collection string, vectorSize int) (Repository, error)

package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
	"github.com/fyrsmithlabs/memoryd/internal/normalize"
)

// Embedder maps texts to vectors, order preserved.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AddItem is one element of an add response, in input order. Existing
// deduplicated records and newly created records are interleaved per
// input position.
type AddItem struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Event string `json:"event"`
}

// Add result events.
const (
	EventCreated      = "created"
	EventDeduplicated = "deduplicated"
)

type repoKey struct {
	collection string
	vectorSize int
}

// Core orchestrates the memory pipeline. It is stateless per call,
// sharing only the clients and the repository cache across requests.
type Core struct {
	cfg        *config.Config
	embedder   Embedder
	normalizer normalize.Normalizer
	factory    RepositoryFactory
	logger     *zap.Logger

	mu    sync.Mutex
	repos map[repoKey]Repository

	closeOnce sync.Once
	closers   []io.Closer
}

// NewCore creates the orchestration core. closers are shut down by Close,
// in order, exactly once.
func NewCore(cfg *config.Config, embedder Embedder, normalizer normalize.Normalizer, factory RepositoryFactory, logger *zap.Logger, closers ...io.Closer) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config required", ErrConfiguration)
	}
	if embedder == nil || normalizer == nil || factory == nil {
		return nil, fmt.Errorf("%w: embedder, normalizer, and repository factory required", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		cfg:        cfg,
		embedder:   embedder,
		normalizer: normalizer,
		factory:    factory,
		logger:     logger.Named("core"),
		repos:      make(map[repoKey]Repository),
		closers:    closers,
	}, nil
}

// Startup ensures the default collection exists. No other work.
func (c *Core) Startup(ctx context.Context) error {
	eff := ResolveOverrides(&c.cfg.Core, "", "")
	_, err := c.repositoryFor(ctx, eff)
	return err
}

// Close shuts down the injected clients. Idempotent.
func (c *Core) Close() error {
	var firstErr error
	c.closeOnce.Do(func() {
		for _, closer := range c.closers {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// repositoryFor returns the cached repository for the tenant's effective
// collection policy, creating and initializing it on first use.
func (c *Core) repositoryFor(ctx context.Context, eff Effective) (Repository, error) {
	if eff.EmbeddingDims != eff.Collection.VectorSize {
		return nil, fmt.Errorf("%w: embedding dims %d does not match collection %s vector size %d",
			ErrConfiguration, eff.EmbeddingDims, eff.Collection.Name, eff.Collection.VectorSize)
	}

	key := repoKey{collection: eff.Collection.Name, vectorSize: eff.Collection.VectorSize}

	c.mu.Lock()
	repo, ok := c.repos[key]
	c.mu.Unlock()
	if ok {
		return repo, nil
	}

	repo, err := c.factory(key.collection, key.vectorSize)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent first use may have won; keep the cached one.
	if existing, ok := c.repos[key]; ok {
		return existing, nil
	}
	c.repos[key] = repo
	return repo, nil
}

// Add runs the ingestion pipeline: candidate collection, optional LLM
// normalization, policy gating, batch embedding, dedup, and upsert. The
// response preserves input order and interleaves deduplicated and created
// records.
func (c *Core) Add(ctx context.Context, orgID, agentID string, req AddRequest) ([]AddItem, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	engine := NewWritePolicyEngine(eff.Write)

	requestScope, err := ParseScope(req.Scope)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(req.Messages)+1)
	for _, t := range req.Texts() {
		if t = strings.TrimSpace(t); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return []AddItem{}, nil
	}

	candidates := make([]normalize.Candidate, 0, len(texts))
	if engine.NormalizeWithLLM() {
		candidates, err = c.normalizer.Normalize(ctx, eff.Model, texts)
		if err != nil {
			return nil, fmt.Errorf("normalizing %d texts: %w", len(texts), err)
		}
	} else {
		for _, t := range texts {
			candidates = append(candidates, normalize.Candidate{Memory: t})
		}
	}

	if max := engine.MaxBatch(); len(candidates) > max {
		c.logger.Warn("truncating add batch",
			zap.Int("candidates", len(candidates)),
			zap.Int("max_batch", max))
		candidates = candidates[:max]
	}

	type pending struct {
		text  string
		scope Scope
	}
	var survivors []pending
	for _, cand := range candidates {
		scope := requestScope
		if cand.Scope != "" {
			if s, err := ParseScope(cand.Scope); err == nil {
				scope = s
			}
		}
		if !engine.ShouldPersist(cand.Memory, scope) {
			metrics.RecordIngest("rejected")
			continue
		}
		survivors = append(survivors, pending{text: strings.TrimSpace(cand.Memory), scope: scope})
	}
	if len(survivors) == 0 {
		return []AddItem{}, nil
	}

	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return nil, err
	}

	embedTexts := make([]string, len(survivors))
	for i, s := range survivors {
		embedTexts[i] = s.text
	}
	metrics.EmbedBatchSize.Observe(float64(len(embedTexts)))
	vectors, err := c.embedder.Embed(ctx, embedTexts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(embedTexts), err)
	}
	if len(vectors) != len(survivors) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts",
			ErrConfiguration, len(vectors), len(survivors))
	}

	userID := req.UserID
	if userID == "" {
		userID = "default"
	}
	ttlDays := req.TTLDays
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}

	now := time.Now().UTC()
	items := make([]AddItem, 0, len(survivors))
	var newRecords []Record
	for i, s := range survivors {
		id := MakeID(orgID, agentID, s.text)
		hash := ComputeHash(orgID, agentID, userID, s.text)

		if engine.Deduplicate() {
			existing, err := repo.FindByHash(ctx, hash, orgID, agentID)
			if err != nil {
				return nil, fmt.Errorf("checking dedup hash: %w", err)
			}
			if existing != nil {
				metrics.RecordIngest("deduplicated")
				items = append(items, AddItem{ID: existing.ID, Text: existing.Text, Event: EventDeduplicated})
				continue
			}
		}

		record := Record{
			ID:   id,
			Text: s.text,
			Payload: Payload{
				OrgID:      orgID,
				AgentID:    agentID,
				UserID:     userID,
				Scope:      string(s.scope),
				Tags:       req.Tags,
				Source:     req.Source,
				TTLDays:    ttlDays,
				CreatedAt:  now,
				UpdatedAt:  now,
				Text:       s.text,
				DedupeHash: hash,
			},
			Vector: vectors[i],
		}
		newRecords = append(newRecords, record)
		metrics.RecordIngest("persisted")
		items = append(items, AddItem{ID: id, Text: s.text, Event: EventCreated})
	}

	if len(newRecords) > 0 {
		if err := repo.Upsert(ctx, newRecords); err != nil {
			return nil, fmt.Errorf("persisting %d records: %w", len(newRecords), err)
		}
	}

	c.logger.Info("memories added",
		zap.String("org_id", orgID),
		zap.String("agent_id", agentID),
		zap.Int("created", len(newRecords)),
		zap.Int("deduplicated", len(items)-len(newRecords)))
	return items, nil
}

// Search embeds the query and returns recency-decayed hits. The store's
// reranking formula is preferred; when unavailable the decay is applied
// locally over the classic nearest-neighbor result.
func (c *Core) Search(ctx context.Context, orgID, agentID string, req SearchRequest) ([]Hit, error) {
	start := time.Now()

	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)

	if req.Scope != "" {
		if _, err := ParseScope(req.Scope); err != nil {
			return nil, err
		}
	}
	limit := req.K
	if limit <= 0 {
		limit = eff.Retrieval.TopK
	}

	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return nil, err
	}

	vectors, err := c.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for the query", ErrConfiguration, len(vectors))
	}

	query := SearchQuery{
		OrgID:    orgID,
		AgentID:  agentID,
		Scope:    req.Scope,
		Tags:     req.Tags,
		Limit:    limit,
		EfSearch: eff.Retrieval.EfSearch,
	}

	hits, ranked, err := repo.SearchDecayed(ctx, vectors[0], query)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	reranker := "store"
	if !ranked {
		reranker = "local"
		hits, err = repo.Search(ctx, vectors[0], query)
		if err != nil {
			return nil, fmt.Errorf("searching: %w", err)
		}
		now := time.Now().UTC()
		for i := range hits {
			hits[i].Score = ApplyTimeDecay(hits[i].Score, hits[i].Payload.CreatedAt, now, DefaultHalfLifeDays)
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	}

	hits = dropDeleted(hits)
	if !eff.Retrieval.IncludeText {
		for i := range hits {
			hits[i].Text = ""
			hits[i].Payload.Text = ""
		}
	}

	metrics.SearchDuration.WithLabelValues(reranker).Observe(time.Since(start).Seconds())
	metrics.SearchHits.Observe(float64(len(hits)))
	return hits, nil
}

func dropDeleted(hits []Hit) []Hit {
	kept := hits[:0]
	for _, h := range hits {
		if !h.Payload.Deleted {
			kept = append(kept, h)
		}
	}
	return kept
}

// Update applies a partial patch to one record under the caller's
// tenancy. A text change re-embeds and upserts; metadata-only patches go
// through setPayload.
func (c *Core) Update(ctx context.Context, orgID, agentID, id string, patch UpdateRequest) (rec *Record, err error) {
	defer func() { metrics.RecordLifecycle("update", err, rec != nil) }()

	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return nil, err
	}

	record, err := c.fetchOwned(ctx, repo, orgID, agentID, id)
	if err != nil {
		return nil, err
	}

	// An empty replacement text is ignored: every persisted record keeps
	// non-empty text.
	textChanged := false
	if patch.Text != nil && *patch.Text != "" && *patch.Text != record.Text {
		record.Text = *patch.Text
		textChanged = true
	}
	if patch.Tags != nil {
		record.Payload.Tags = *patch.Tags
	}
	if patch.Scope != nil {
		scope, err := ParseScope(*patch.Scope)
		if err != nil {
			return nil, err
		}
		record.Payload.Scope = string(scope)
	}
	if patch.TTLDays != nil {
		record.Payload.TTLDays = *patch.TTLDays
	}
	if patch.Deleted != nil {
		record.Payload.Deleted = *patch.Deleted
	}
	record.Payload.Text = record.Text
	record.Payload.UpdatedAt = time.Now().UTC()

	if textChanged {
		vectors, err := c.embedder.Embed(ctx, []string{record.Text})
		if err != nil {
			return nil, fmt.Errorf("re-embedding updated text: %w", err)
		}
		record.Vector = vectors[0]
		if err := repo.Upsert(ctx, []Record{*record}); err != nil {
			return nil, fmt.Errorf("persisting update: %w", err)
		}
	} else {
		if err := repo.SetPayload(ctx, *record); err != nil {
			return nil, fmt.Errorf("persisting update: %w", err)
		}
	}
	return record, nil
}

// Delete removes one record under the caller's tenancy, hard or soft.
func (c *Core) Delete(ctx context.Context, orgID, agentID, id string, hard bool) (err error) {
	operation := "soft_delete"
	if hard {
		operation = "hard_delete"
	}
	found := false
	defer func() { metrics.RecordLifecycle(operation, err, found) }()

	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return err
	}

	if _, err := c.fetchOwned(ctx, repo, orgID, agentID, id); err != nil {
		return err
	}
	found = true

	if hard {
		return repo.Delete(ctx, id)
	}
	_, err = repo.SoftDelete(ctx, id)
	return err
}

// List returns the tenant's records, most recently updated first.
func (c *Core) List(ctx context.Context, orgID, agentID string, limit int, includeDeleted bool) ([]Record, error) {
	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = eff.Retrieval.TopK
	}
	return repo.ListRecent(ctx, orgID, agentID, limit, includeDeleted)
}

// GetMany retrieves records by id, dropping any outside the caller's
// tenancy.
func (c *Core) GetMany(ctx context.Context, orgID, agentID string, ids []string) ([]Record, error) {
	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return nil, err
	}
	records, err := repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return filterOwned(records, orgID, agentID), nil
}

// DeleteMany removes records by id, hard or soft. Both modes fetch first
// and act only on records inside the caller's tenancy; foreign ids are
// silent no-ops.
func (c *Core) DeleteMany(ctx context.Context, orgID, agentID string, ids []string, hard bool) (int, error) {
	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return 0, err
	}

	records, err := repo.GetMany(ctx, ids)
	if err != nil {
		return 0, err
	}
	owned := filterOwned(records, orgID, agentID)
	if len(owned) == 0 {
		return 0, nil
	}

	if hard {
		ownedIDs := make([]string, len(owned))
		for i, r := range owned {
			ownedIDs[i] = r.ID
		}
		if err := repo.DeleteMany(ctx, ownedIDs); err != nil {
			return 0, err
		}
		return len(ownedIDs), nil
	}

	deleted := 0
	for _, r := range owned {
		ok, err := repo.SoftDelete(ctx, r.ID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// SearchText scans the tenant's records for a case-folded substring
// match.
func (c *Core) SearchText(ctx context.Context, orgID, agentID, query string, limit int, includeDeleted bool) ([]Record, error) {
	eff := ResolveOverrides(&c.cfg.Core, orgID, agentID)
	repo, err := c.repositoryFor(ctx, eff)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = eff.Retrieval.TopK
	}
	return repo.SearchText(ctx, orgID, agentID, query, limit, includeDeleted)
}

// fetchOwned retrieves a record and verifies tenancy. Missing records and
// tenancy mismatches are both reported as not found.
func (c *Core) fetchOwned(ctx context.Context, repo Repository, orgID, agentID, id string) (*Record, error) {
	record, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Payload.OrgID != orgID || record.Payload.AgentID != agentID {
		return nil, fmt.Errorf("%w: memory %s", ErrNotFound, id)
	}
	return record, nil
}

func filterOwned(records []Record, orgID, agentID string) []Record {
	owned := records[:0]
	for _, r := range records {
		if r.Payload.OrgID == orgID && r.Payload.AgentID == agentID {
			owned = append(owned, r)
		}
	}
	return owned
}

package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("memoryd.vectorstore.qdrant")

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Reranker availability states. The transition is monotone: once the
// formula-query probe fails, the repository never tries again.
const (
	rerankerUnknown int32 = iota
	rerankerAvailable
	rerankerUnavailable
)

// searchTextPageSize is the scroll page size for substring scans.
const searchTextPageSize = 100

// Config holds per-collection repository configuration. The Qdrant client
// itself is shared across repositories.
type Config struct {
	// CollectionName is the collection this repository reads and writes.
	CollectionName string

	// VectorSize is the embedding dimensionality. Upserted vectors of any
	// other length are rejected as a configuration error.
	VectorSize int

	// HalfLifeDays is the recency half-life used by the store-side
	// reranking formula. Default: memory.DefaultHalfLifeDays.
	HalfLifeDays int

	// MaxRetries is the retry budget for transient gRPC failures.
	// Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	// Default: 1 second.
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = memory.DefaultHalfLifeDays
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if !collectionNamePattern.MatchString(c.CollectionName) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q",
			ErrInvalidConfig, c.CollectionName)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantRepository reads and writes memory records in one Qdrant
// collection over the native gRPC client.
type QdrantRepository struct {
	client *qdrant.Client
	config Config

	// rerankerState tracks formula-query support: unknown until the first
	// SearchDecayed call, then available or (permanently) unavailable.
	rerankerState atomic.Int32
}

// NewQdrantRepository creates a repository over a shared Qdrant client.
func NewQdrantRepository(client *qdrant.Client, config Config) (*QdrantRepository, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: qdrant client required", ErrInvalidConfig)
	}
	return &QdrantRepository{client: client, config: config}, nil
}

// retry runs an operation with exponential backoff on transient errors.
func (r *QdrantRepository) retry(ctx context.Context, name string, op func() error) error {
	backoff := r.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", name, err)
		}
		if attempt == r.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, r.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection idempotently creates the collection (cosine distance,
// on-disk payload) and the payload indexes needed for tenant filtering.
//
// A pre-existing org_id keyword index that is not tenant-aware is dropped
// and recreated; all other indexes are left as-is once present.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", r.config.CollectionName))

	info, err := r.collectionInfo(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if info == nil {
		err := r.retry(ctx, "create_collection", func() error {
			return r.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: r.config.CollectionName,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(r.config.VectorSize),
					Distance: qdrant.Distance_Cosine,
				}),
				OnDiskPayload: qdrant.PtrOf(true),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", r.config.CollectionName, err)
		}
		info = &qdrant.CollectionInfo{}
	}

	if err := r.ensurePayloadIndexes(ctx, info.GetPayloadSchema()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// collectionInfo returns the collection info, or nil if it does not exist.
func (r *QdrantRepository) collectionInfo(ctx context.Context) (*qdrant.CollectionInfo, error) {
	var info *qdrant.CollectionInfo
	err := r.retry(ctx, "get_collection_info", func() error {
		ci, err := r.client.GetCollectionInfo(ctx, r.config.CollectionName)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				info = nil
				return nil
			}
			return err
		}
		info = ci
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", r.config.CollectionName, err)
	}
	return info, nil
}

// payloadIndex describes one required payload index.
type payloadIndex struct {
	field     string
	fieldType qdrant.FieldType
	isTenant  bool
}

var requiredIndexes = []payloadIndex{
	{field: "org_id", fieldType: qdrant.FieldType_FieldTypeKeyword, isTenant: true},
	{field: "agent_id", fieldType: qdrant.FieldType_FieldTypeKeyword},
	{field: "user_id", fieldType: qdrant.FieldType_FieldTypeKeyword},
	{field: "scope", fieldType: qdrant.FieldType_FieldTypeKeyword},
	{field: "tags", fieldType: qdrant.FieldType_FieldTypeKeyword},
	{field: "dedupe_hash", fieldType: qdrant.FieldType_FieldTypeKeyword},
	{field: "deleted", fieldType: qdrant.FieldType_FieldTypeBool},
	{field: "created_at", fieldType: qdrant.FieldType_FieldTypeDatetime},
	{field: "updated_at", fieldType: qdrant.FieldType_FieldTypeDatetime},
}

func (r *QdrantRepository) ensurePayloadIndexes(ctx context.Context, schema map[string]*qdrant.PayloadSchemaInfo) error {
	for _, idx := range requiredIndexes {
		existing, exists := schema[idx.field]
		if exists {
			if !idx.isTenant {
				continue
			}
			if existing.GetParams().GetKeywordIndexParams().GetIsTenant() {
				continue
			}
			// org_id was indexed without the tenant flag; recreate it.
			err := r.retry(ctx, "delete_field_index", func() error {
				_, err := r.client.DeleteFieldIndex(ctx, &qdrant.DeleteFieldIndexCollection{
					CollectionName: r.config.CollectionName,
					FieldName:      idx.field,
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("dropping index on %s: %w", idx.field, err)
			}
		}

		req := &qdrant.CreateFieldIndexCollection{
			CollectionName: r.config.CollectionName,
			FieldName:      idx.field,
			FieldType:      idx.fieldType.Enum(),
		}
		if idx.isTenant {
			req.FieldIndexParams = &qdrant.PayloadIndexParams{
				IndexParams: &qdrant.PayloadIndexParams_KeywordIndexParams{
					KeywordIndexParams: &qdrant.KeywordIndexParams{
						IsTenant: qdrant.PtrOf(true),
					},
				},
			}
		}
		err := r.retry(ctx, "create_field_index", func() error {
			_, err := r.client.CreateFieldIndex(ctx, req)
			return err
		})
		if err != nil {
			return fmt.Errorf("creating index on %s: %w", idx.field, err)
		}
	}
	return nil
}

// tenantFilter builds the must-filter for a tenancy pair plus optional
// scope and tags narrowing.
func tenantFilter(orgID, agentID, scope string, tags []string) *qdrant.Filter {
	conditions := []*qdrant.Condition{
		keywordCondition("org_id", orgID),
		keywordCondition("agent_id", agentID),
	}
	if scope != "" {
		conditions = append(conditions, keywordCondition("scope", scope))
	}
	if len(tags) > 0 {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "tags",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: tags},
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func boolCondition(key string, value bool) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Boolean{Boolean: value},
				},
			},
		},
	}
}

// Upsert writes records by id. Vectors must match the collection size.
func (r *QdrantRepository) Upsert(ctx context.Context, records []memory.Record) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("record_count", len(records)),
		attribute.String("collection", r.config.CollectionName),
	)

	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, record := range records {
		if len(record.Vector) != r.config.VectorSize {
			err := fmt.Errorf("%w: record %s has %d dims, collection %s expects %d",
				ErrDimensionMismatch, record.ID, len(record.Vector), r.config.CollectionName, r.config.VectorSize)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(record.ID),
			Vectors: qdrant.NewVectors(record.Vector...),
			Payload: encodePayload(record),
		}
	}

	err := r.retry(ctx, "upsert", func() error {
		_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: r.config.CollectionName,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Search returns the top hits by cosine similarity under the tenancy
// filter, payload included, vectors excluded.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, q memory.SearchQuery) ([]memory.Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", r.config.CollectionName),
		attribute.Int("limit", q.Limit),
	)

	var points []*qdrant.ScoredPoint
	err := r.retry(ctx, "search", func() error {
		res, err := r.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: r.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Filter:         tenantFilter(q.OrgID, q.AgentID, q.Scope, q.Tags),
			Limit:          qdrant.PtrOf(uint64(q.Limit)),
			Params:         searchParams(q),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", r.config.CollectionName, err)
	}

	hits := scoredPointsToHits(points)
	span.SetAttributes(attribute.Int("hit_count", len(hits)))
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

// SearchDecayed issues a formula query that multiplies the raw semantic
// score by a Gaussian decay over created_at with the configured half-life.
// The candidate set is a nearest-vector prefetch under the same filter,
// with limit clamp(limit*4, limit, 128).
//
// On the first failure the repository flips to "unavailable" and never
// probes again; callers fall back to Search plus in-process decay.
func (r *QdrantRepository) SearchDecayed(ctx context.Context, vector []float32, q memory.SearchQuery) ([]memory.Hit, bool, error) {
	if r.rerankerState.Load() == rerankerUnavailable {
		return nil, false, nil
	}

	ctx, span := tracer.Start(ctx, "QdrantRepository.SearchDecayed")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", r.config.CollectionName),
		attribute.Int("limit", q.Limit),
	)

	filter := tenantFilter(q.OrgID, q.AgentID, q.Scope, q.Tags)
	prefetchLimit := q.Limit * 4
	if prefetchLimit < q.Limit {
		prefetchLimit = q.Limit
	}
	if prefetchLimit > 128 {
		prefetchLimit = 128
	}
	halfLifeSeconds := float32(r.config.HalfLifeDays) * 86400

	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.config.CollectionName,
		Prefetch: []*qdrant.PrefetchQuery{{
			Query:  qdrant.NewQuery(vector...),
			Filter: filter,
			Limit:  qdrant.PtrOf(uint64(prefetchLimit)),
			Params: searchParams(q),
		}},
		Query: qdrant.NewQueryFormula(&qdrant.Formula{
			Expression: qdrant.NewExpressionMult(&qdrant.MultExpression{
				Mult: []*qdrant.Expression{
					qdrant.NewExpressionVariable("$score"),
					qdrant.NewExpressionGaussDecay(&qdrant.DecayParamsExpression{
						X:      qdrant.NewExpressionDatetimeKey("created_at"),
						Target: qdrant.NewExpressionDatetime(time.Now().UTC().Format(time.RFC3339)),
						Scale:  qdrant.PtrOf(halfLifeSeconds),
					}),
				},
			}),
		}),
		Filter:      filter,
		Limit:       qdrant.PtrOf(uint64(q.Limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		// Formula queries are an optional store capability; remember the
		// answer and let the caller take the classic path.
		r.rerankerState.Store(rerankerUnavailable)
		span.SetAttributes(attribute.Bool("reranker_available", false))
		span.SetStatus(codes.Ok, "")
		return nil, false, nil
	}

	r.rerankerState.Store(rerankerAvailable)
	hits := scoredPointsToHits(points)
	span.SetAttributes(attribute.Int("hit_count", len(hits)), attribute.Bool("reranker_available", true))
	span.SetStatus(codes.Ok, "")
	return hits, true, nil
}

func searchParams(q memory.SearchQuery) *qdrant.SearchParams {
	if q.EfSearch <= 0 {
		return nil
	}
	return &qdrant.SearchParams{HnswEf: qdrant.PtrOf(uint64(q.EfSearch))}
}

func scoredPointsToHits(points []*qdrant.ScoredPoint) []memory.Hit {
	hits := make([]memory.Hit, len(points))
	for i, point := range points {
		payload := decodePayload(point.GetPayload())
		hits[i] = memory.Hit{
			ID:      pointIDString(point.GetId()),
			Score:   float64(point.GetScore()),
			Text:    payload.Text,
			Payload: payload,
		}
	}
	return hits
}

// Get retrieves one record by id, payload only.
func (r *QdrantRepository) Get(ctx context.Context, id string) (*memory.Record, error) {
	records, err := r.GetMany(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// GetMany retrieves records by primary key, payload only.
func (r *QdrantRepository) GetMany(ctx context.Context, ids []string) ([]memory.Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.GetMany")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	var points []*qdrant.RetrievedPoint
	err := r.retry(ctx, "get", func() error {
		res, err := r.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: r.config.CollectionName,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieving %d points: %w", len(ids), err)
	}

	records := retrievedPointsToRecords(points)
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// Delete hard-deletes one record by id.
func (r *QdrantRepository) Delete(ctx context.Context, id string) error {
	return r.DeleteMany(ctx, []string{id})
}

// DeleteMany hard-deletes records by id list.
func (r *QdrantRepository) DeleteMany(ctx context.Context, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.DeleteMany")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	var result *qdrant.UpdateResult
	err := r.retry(ctx, "delete", func() error {
		res, err := r.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: r.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting %d points: %w", len(ids), err)
	}
	if result.GetStatus() != qdrant.UpdateStatus_Completed {
		err := fmt.Errorf("%w: status %s", ErrDeleteIncomplete, result.GetStatus())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SetPayload overwrites the payload fields on an existing record.
func (r *QdrantRepository) SetPayload(ctx context.Context, record memory.Record) error {
	ctx, span := tracer.Start(ctx, "QdrantRepository.SetPayload")
	defer span.End()

	err := r.retry(ctx, "set_payload", func() error {
		_, err := r.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: r.config.CollectionName,
			Payload:        encodePayload(record),
			PointsSelector: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDUUID(record.ID)}},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("setting payload on %s: %w", record.ID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SoftDelete marks a record deleted via read-modify-write. Returns false
// when the record does not exist.
func (r *QdrantRepository) SoftDelete(ctx context.Context, id string) (bool, error) {
	record, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	record.Payload.Deleted = true
	record.Payload.UpdatedAt = time.Now().UTC()
	if err := r.SetPayload(ctx, *record); err != nil {
		return false, err
	}
	return true, nil
}

// FindByHash returns at most one record with the given dedup hash within
// the tenant.
func (r *QdrantRepository) FindByHash(ctx context.Context, hash, orgID, agentID string) (*memory.Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.FindByHash")
	defer span.End()

	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		keywordCondition("org_id", orgID),
		keywordCondition("agent_id", agentID),
		keywordCondition("dedupe_hash", hash),
	}}

	var points []*qdrant.RetrievedPoint
	err := r.retry(ctx, "find_by_hash", func() error {
		res, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: r.config.CollectionName,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(1)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("finding by hash: %w", err)
	}
	if len(points) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}

	records := retrievedPointsToRecords(points[:1])
	span.SetStatus(codes.Ok, "")
	return &records[0], nil
}

// ListRecent returns records under the tenancy filter, most recently
// updated first. Ordered scrolling relies on the updated_at datetime index.
func (r *QdrantRepository) ListRecent(ctx context.Context, orgID, agentID string, limit int, includeDeleted bool) ([]memory.Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.ListRecent")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	conditions := []*qdrant.Condition{
		keywordCondition("org_id", orgID),
		keywordCondition("agent_id", agentID),
	}
	if !includeDeleted {
		conditions = append(conditions, boolCondition("deleted", false))
	}

	var points []*qdrant.RetrievedPoint
	err := r.retry(ctx, "list_recent", func() error {
		res, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: r.config.CollectionName,
			Filter:         &qdrant.Filter{Must: conditions},
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
			OrderBy: &qdrant.OrderBy{
				Key:       "updated_at",
				Direction: qdrant.Direction_Desc.Enum(),
			},
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing recent: %w", err)
	}

	records := retrievedPointsToRecords(points)
	span.SetStatus(codes.Ok, "")
	return records, nil
}

// SearchText page-scrolls the tenant's records and keeps case-folded
// substring matches on the text payload, stopping at limit or end of
// stream. Explicitly O(N) within the tenant.
func (r *QdrantRepository) SearchText(ctx context.Context, orgID, agentID, query string, limit int, includeDeleted bool) ([]memory.Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantRepository.SearchText")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	conditions := []*qdrant.Condition{
		keywordCondition("org_id", orgID),
		keywordCondition("agent_id", agentID),
	}
	if !includeDeleted {
		conditions = append(conditions, boolCondition("deleted", false))
	}
	filter := &qdrant.Filter{Must: conditions}

	needle := strings.ToLower(query)
	var records []memory.Record
	var offset *qdrant.PointId

	for len(records) < limit {
		var points []*qdrant.RetrievedPoint
		var next *qdrant.PointId
		err := r.retry(ctx, "search_text_scroll", func() error {
			res, nextOffset, err := r.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: r.config.CollectionName,
				Filter:         filter,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(searchTextPageSize)),
				WithPayload:    qdrant.NewWithPayload(true),
				WithVectors:    qdrant.NewWithVectors(false),
			})
			if err != nil {
				return err
			}
			points = res
			next = nextOffset
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scanning text: %w", err)
		}
		if len(points) == 0 {
			break
		}

		for _, point := range points {
			payload := decodePayload(point.GetPayload())
			if strings.Contains(strings.ToLower(payload.Text), needle) {
				records = append(records, memory.Record{
					ID:      pointIDString(point.GetId()),
					Text:    payload.Text,
					Payload: payload,
				})
				if len(records) >= limit {
					break
				}
			}
		}

		if next == nil {
			break
		}
		offset = next
	}

	span.SetAttributes(attribute.Int("match_count", len(records)))
	span.SetStatus(codes.Ok, "")
	return records, nil
}

func retrievedPointsToRecords(points []*qdrant.RetrievedPoint) []memory.Record {
	records := make([]memory.Record, len(points))
	for i, point := range points {
		payload := decodePayload(point.GetPayload())
		records[i] = memory.Record{
			ID:      pointIDString(point.GetId()),
			Text:    payload.Text,
			Payload: payload,
		}
	}
	return records
}

func pointIDString(id *qdrant.PointId) string {
	switch pid := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return pid.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(pid.Num, 10)
	}
	return ""
}

// Ensure QdrantRepository implements Repository.
var _ memory.Repository = (*QdrantRepository)(nil)

// Package memory implements the ingestion and retrieval pipeline for the
// multi-tenant semantic memory service.
//
// The pipeline distills free-text snippets into durable memory records:
// candidate extraction, LLM normalization, write-policy gating, deterministic
// identity and deduplication, embedding, vector upsert, and tenant-scoped
// search with recency decay.
//
// The Core type orchestrates the pipeline. It shares a single embedding
// client, normalization client, and vector-store client across requests and
// holds no per-request state, so concurrent calls are safe.
package memory

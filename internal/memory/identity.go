package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultHalfLifeDays is the recency half-life applied to search scores,
// both by the in-process decay and by the store-side reranking formula.
const DefaultHalfLifeDays = 90

// MakeID derives the deterministic record id for a memory text within a
// tenant. A per-tenant namespace is derived first so equal texts under
// different tenants never collide:
//
//	ns = UUIDv5(URL namespace, "memory::{org}::{agent}")
//	id = UUIDv5(ns, text)
//
// The derivation is stable across processes and restarts; writing the same
// (org, agent, text) twice addresses the same slot.
func MakeID(orgID, agentID, text string) string {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("memory::%s::%s", orgID, agentID)))
	return uuid.NewSHA1(ns, []byte(text)).String()
}

// ComputeHash returns the dedup key for a memory: lowercase hex SHA-256
// over org|agent|user|text with pipe separators.
func ComputeHash(orgID, agentID, userID, text string) string {
	h := sha256.New()
	h.Write([]byte(orgID))
	h.Write([]byte("|"))
	h.Write([]byte(agentID))
	h.Write([]byte("|"))
	h.Write([]byte(userID))
	h.Write([]byte("|"))
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ApplyTimeDecay halves a relevance score every halfLifeDays days of record
// age. Age is measured in whole days, clamped at zero so clock skew never
// boosts a score.
func ApplyTimeDecay(score float64, createdAt, now time.Time, halfLifeDays int) float64 {
	days := int(now.Sub(createdAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return score * math.Pow(0.5, float64(days)/float64(halfLifeDays))
}

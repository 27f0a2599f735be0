package memory

import (
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

// WritePolicyEngine evaluates whether a piece of text should become a
// memory. It is stateless; a new engine is built per request from the
// resolved tenant configuration.
type WritePolicyEngine struct {
	policy config.WritePolicy
}

// NewWritePolicyEngine wraps a resolved write policy.
func NewWritePolicyEngine(policy config.WritePolicy) *WritePolicyEngine {
	return &WritePolicyEngine{policy: policy}
}

// ShouldPersist reports whether the text qualifies for storage: at least
// min_chars after trimming whitespace, and a scope the policy enables.
func (e *WritePolicyEngine) ShouldPersist(text string, scope Scope) bool {
	if len(strings.TrimSpace(text)) < e.policy.MinChars {
		return false
	}
	for _, enabled := range e.policy.EnabledScopes {
		if enabled == string(scope) {
			return true
		}
	}
	return false
}

// Deduplicate reports whether writes consult the dedup hash first.
func (e *WritePolicyEngine) Deduplicate() bool { return e.policy.Deduplicate }

// NormalizeWithLLM reports whether candidates pass through the
// normalization client before policy gating.
func (e *WritePolicyEngine) NormalizeWithLLM() bool { return e.policy.NormalizeWithLLM }

// MaxBatch caps how many texts one add call may embed and upsert.
func (e *WritePolicyEngine) MaxBatch() int { return e.policy.MaxBatch }

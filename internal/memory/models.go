package memory

import (
	"fmt"
	"time"
)

// DefaultTTLDays is the default retention hint stored on new records.
// TTL is metadata only; nothing sweeps expired records.
const DefaultTTLDays = 365

// Scope is the semantic class of a memory.
type Scope string

const (
	ScopePrefs       Scope = "prefs"
	ScopeFacts       Scope = "facts"
	ScopePersona     Scope = "persona"
	ScopeConstraints Scope = "constraints"
)

// Scopes returns all supported scopes.
func Scopes() []Scope {
	return []Scope{ScopePrefs, ScopeFacts, ScopePersona, ScopeConstraints}
}

// ParseScope validates a scope string. Empty input defaults to facts.
func ParseScope(s string) (Scope, error) {
	if s == "" {
		return ScopeFacts, nil
	}
	switch Scope(s) {
	case ScopePrefs, ScopeFacts, ScopePersona, ScopeConstraints:
		return Scope(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// Payload is the metadata stored alongside every embedding.
type Payload struct {
	OrgID      string    `json:"org_id"`
	AgentID    string    `json:"agent_id"`
	UserID     string    `json:"user_id"`
	Scope      string    `json:"scope"`
	Tags       []string  `json:"tags"`
	Source     string    `json:"source,omitempty"`
	TTLDays    int       `json:"ttl_days"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Deleted    bool      `json:"deleted"`
	Text       string    `json:"text"`
	DedupeHash string    `json:"dedupe_hash,omitempty"`
}

// Record is the full representation of a stored memory.
type Record struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Payload Payload   `json:"payload"`
	Vector  []float32 `json:"vector,omitempty"`
}

// Hit is a single semantic search result. Score is the relevance value
// after recency decay has been applied.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
	Payload Payload `json:"payload"`
}

// Message is a single conversational turn submitted for ingestion.
type Message struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// AddRequest carries candidate memory texts for one tenant user.
type AddRequest struct {
	UserID         string    `json:"user_id"`
	Messages       []Message `json:"messages,omitempty"`
	Text           string    `json:"text,omitempty"`
	Scope          string    `json:"scope,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Source         string    `json:"source,omitempty"`
	TTLDays        int       `json:"ttl_days,omitempty"`
}

// Texts returns the candidate texts in input order: the free-text field
// first, then each message content.
func (r AddRequest) Texts() []string {
	texts := make([]string, 0, len(r.Messages)+1)
	if r.Text != "" {
		texts = append(texts, r.Text)
	}
	for _, m := range r.Messages {
		if m.Content != "" {
			texts = append(texts, m.Content)
		}
	}
	return texts
}

// SearchRequest carries parameters for semantic search.
type SearchRequest struct {
	Query  string   `json:"query"`
	UserID string   `json:"user_id,omitempty"`
	K      int      `json:"k,omitempty"`
	Scope  string   `json:"scope,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// UpdateRequest is a partial patch for a stored memory. Nil fields are
// left untouched.
type UpdateRequest struct {
	Text    *string   `json:"text,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Scope   *string   `json:"scope,omitempty"`
	TTLDays *int      `json:"ttl_days,omitempty"`
	Deleted *bool     `json:"deleted,omitempty"`
}

// Package config provides configuration loading for memoryd.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// validVectorSizes are the embedding dimensions the service accepts.
var validVectorSizes = map[int]bool{128: true, 256: true, 512: true, 768: true}

// DefaultScopes enables every scope for writes unless narrowed per tenant.
var DefaultScopes = []string{"prefs", "facts", "persona", "constraints"}

// WritePolicy governs whether and how a candidate text becomes a memory.
type WritePolicy struct {
	EnabledScopes    []string `koanf:"enabled_scopes"`
	MinChars         int      `koanf:"min_chars"`
	Deduplicate      bool     `koanf:"deduplicate"`
	NormalizeWithLLM bool     `koanf:"normalize_with_llm"`
	MaxBatch         int      `koanf:"max_batch"`
}

// RetrievalPolicy holds semantic search parameters.
type RetrievalPolicy struct {
	TopK        int  `koanf:"top_k"`
	EfSearch    int  `koanf:"ef_search"`
	IncludeText bool `koanf:"include_text"`
}

// CollectionPolicy selects and tunes a vector collection.
type CollectionPolicy struct {
	Name          string `koanf:"name"`
	VectorSize    int    `koanf:"vector_size"`
	Distance      string `koanf:"distance"`
	OnDiskPayload bool   `koanf:"on_disk_payload"`
}

// TenantOverrides are per-org or per-agent partial configs. A nil field
// inherits from the level below in the defaults -> org -> agent cascade.
type TenantOverrides struct {
	Write         *WritePolicy      `koanf:"write"`
	Retrieval     *RetrievalPolicy  `koanf:"retrieval"`
	Collection    *CollectionPolicy `koanf:"collection"`
	Model         string            `koanf:"model"`
	EmbeddingDims int               `koanf:"embedding_dims"`
}

// OrgConfig is an organisation-level override set plus its agent overrides.
type OrgConfig struct {
	TenantOverrides `koanf:",squash"`
	Agents          map[string]TenantOverrides `koanf:"agents"`
}

// CoreConfig is the top-level tree resolved at request time.
type CoreConfig struct {
	Write         WritePolicy          `koanf:"write"`
	Retrieval     RetrievalPolicy      `koanf:"retrieval"`
	Collection    CollectionPolicy     `koanf:"collection"`
	Model         string               `koanf:"model"`
	EmbeddingDims int                  `koanf:"embedding_dims"`
	Organisations map[string]OrgConfig `koanf:"organisations"`
}

// SecurityConfig holds authentication and tenancy enforcement settings.
type SecurityConfig struct {
	JWTAudience string `koanf:"jwt_audience"`
	JWTIssuer   string `koanf:"jwt_issuer"`
	JWKURL      string `koanf:"jwk_url"`
	// SharedSecrets maps org_id to its bearer token.
	SharedSecrets  map[string]string `koanf:"shared_secrets"`
	EnforceHeaders bool              `koanf:"enforce_headers"`
}

// ServicesConfig holds external backend endpoints and credentials.
type ServicesConfig struct {
	OpenRouterAPIKey  string `koanf:"openrouter_api_key"`
	OpenRouterBaseURL string `koanf:"openrouter_base_url"`
	TEIBaseURL        string `koanf:"tei_base_url"`
	QdrantURL         string `koanf:"qdrant_url"`
	QdrantAPIKey      string `koanf:"qdrant_api_key"`
	QdrantCollection  string `koanf:"qdrant_collection"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig selects the OTLP trace destination. Tracing is off
// when the endpoint is empty.
type ObservabilityConfig struct {
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Config is the full configuration document.
type Config struct {
	Environment   string              `koanf:"environment"`
	Core          CoreConfig          `koanf:"core"`
	Security      SecurityConfig      `koanf:"security"`
	Services      ServicesConfig      `koanf:"services"`
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// Validate checks the configuration tree. It is called after defaults have
// been applied, so zero values here are genuine errors.
func (c *Config) Validate() error {
	if err := validateWrite(&c.Core.Write); err != nil {
		return err
	}
	if c.Core.Retrieval.TopK < 1 {
		return fmt.Errorf("%w: retrieval.top_k must be >= 1", ErrInvalidConfig)
	}
	if c.Core.Retrieval.EfSearch < 1 {
		return fmt.Errorf("%w: retrieval.ef_search must be >= 1", ErrInvalidConfig)
	}
	if c.Core.Collection.Name == "" {
		return fmt.Errorf("%w: collection.name required", ErrInvalidConfig)
	}
	if !validVectorSizes[c.Core.Collection.VectorSize] {
		return fmt.Errorf("%w: collection.vector_size must be one of 128, 256, 512, 768, got %d",
			ErrInvalidConfig, c.Core.Collection.VectorSize)
	}
	if !validVectorSizes[c.Core.EmbeddingDims] {
		return fmt.Errorf("%w: embedding_dims must be one of 128, 256, 512, 768, got %d",
			ErrInvalidConfig, c.Core.EmbeddingDims)
	}
	for orgID, org := range c.Core.Organisations {
		if err := validateOverrides(orgID, org.TenantOverrides); err != nil {
			return err
		}
		for agentID, agent := range org.Agents {
			if err := validateOverrides(orgID+"/"+agentID, agent); err != nil {
				return err
			}
		}
	}
	if c.Services.OpenRouterAPIKey == "" {
		return fmt.Errorf("%w: services.openrouter_api_key required", ErrInvalidConfig)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

func validateWrite(w *WritePolicy) error {
	if w.MinChars < 1 {
		return fmt.Errorf("%w: write.min_chars must be >= 1", ErrInvalidConfig)
	}
	if w.MaxBatch < 1 {
		return fmt.Errorf("%w: write.max_batch must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func validateOverrides(path string, o TenantOverrides) error {
	if o.Write != nil {
		if err := validateWrite(o.Write); err != nil {
			return fmt.Errorf("organisations.%s: %w", path, err)
		}
	}
	if o.EmbeddingDims != 0 && !validVectorSizes[o.EmbeddingDims] {
		return fmt.Errorf("%w: organisations.%s: embedding_dims must be one of 128, 256, 512, 768",
			ErrInvalidConfig, path)
	}
	if o.Collection != nil && o.Collection.VectorSize != 0 && !validVectorSizes[o.Collection.VectorSize] {
		return fmt.Errorf("%w: organisations.%s: collection.vector_size must be one of 128, 256, 512, 768",
			ErrInvalidConfig, path)
	}
	return nil
}

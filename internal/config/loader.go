package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// ConfigEnvVar names the config file when no explicit path is given.
	ConfigEnvVar = "MEMORY_CONFIG_FILE"

	// DefaultConfigPath is used when neither flag nor env var is set.
	DefaultConfigPath = "config/memory-config.yaml"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration from a YAML file and fills gaps from environment
// variables. Path resolution: explicit argument, else $MEMORY_CONFIG_FILE,
// else config/memory-config.yaml. A missing file is not an error; defaults
// and environment variables alone can form a valid configuration.
//
// Environment variables override only keys absent in the YAML document:
//
//	OPENROUTER_API_KEY    -> services.openrouter_api_key
//	OPENROUTER_BASE_URL   -> services.openrouter_base_url
//	QDRANT_URL            -> services.qdrant_url
//	QDRANT_API_KEY        -> services.qdrant_api_key
//	TEI_BASE_URL          -> services.tei_base_url
//	MEMORY_SHARED_SECRET  -> security.shared_secrets.default (if no map set)
//	MEMORY_ENVIRONMENT    -> environment
//
// Additionally any MEMORYD_-prefixed variable maps onto the document with
// a double underscore as the key separator (MEMORYD_SERVER__PORT).
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv(ConfigEnvVar)
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	k := koanf.New(".")

	if info, err := os.Stat(configPath); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)",
				ErrInvalidConfig, info.Size(), maxConfigFileSize)
		}
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Boolean defaults that are on by default; a zero bool cannot express
	// "unset", so consult the raw document.
	if !k.Exists("security.enforce_headers") {
		cfg.Security.EnforceHeaders = true
	}
	if !k.Exists("core.write.deduplicate") {
		cfg.Core.Write.Deduplicate = true
	}
	if !k.Exists("core.write.normalize_with_llm") {
		cfg.Core.Write.NormalizeWithLLM = true
	}
	if !k.Exists("core.retrieval.include_text") {
		cfg.Core.Retrieval.IncludeText = true
	}
	if !k.Exists("core.collection.on_disk_payload") {
		cfg.Core.Collection.OnDiskPayload = true
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides sets service credentials and endpoints from the
// environment, but only for keys the YAML document left unset.
func applyEnvOverrides(k *koanf.Koanf) {
	// Generic overrides under the MEMORYD_ prefix, double underscore as the
	// key separator: MEMORYD_SERVER__PORT -> server.port.
	prefixed := koanf.New(".")
	_ = prefixed.Load(env.Provider("MEMORYD_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MEMORYD_")), "__", ".")
	}), nil)
	for key, value := range prefixed.All() {
		if !k.Exists(key) {
			_ = k.Set(key, value)
		}
	}

	maybeSet(k, "services.openrouter_api_key", os.Getenv("OPENROUTER_API_KEY"))
	maybeSet(k, "services.openrouter_base_url", os.Getenv("OPENROUTER_BASE_URL"))
	maybeSet(k, "services.qdrant_url", os.Getenv("QDRANT_URL"))
	maybeSet(k, "services.qdrant_api_key", os.Getenv("QDRANT_API_KEY"))
	maybeSet(k, "services.tei_base_url", os.Getenv("TEI_BASE_URL"))

	if secret := os.Getenv("MEMORY_SHARED_SECRET"); secret != "" && !k.Exists("security.shared_secrets") {
		_ = k.Set("security.shared_secrets", map[string]string{"default": secret})
	}
	maybeSet(k, "environment", os.Getenv("MEMORY_ENVIRONMENT"))
}

func maybeSet(k *koanf.Koanf, key, value string) {
	if value != "" && !k.Exists(key) {
		_ = k.Set(key, value)
	}
}

// applyDefaults fills missing configuration fields before validation.
func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	w := &cfg.Core.Write
	if len(w.EnabledScopes) == 0 {
		w.EnabledScopes = append([]string(nil), DefaultScopes...)
	}
	if w.MinChars == 0 {
		w.MinChars = 12
	}
	if w.MaxBatch == 0 {
		w.MaxBatch = 32
	}

	r := &cfg.Core.Retrieval
	if r.TopK == 0 {
		r.TopK = 6
	}
	if r.EfSearch == 0 {
		r.EfSearch = 64
	}

	// services.qdrant_collection names the default collection unless the
	// collection policy sets one explicitly.
	col := &cfg.Core.Collection
	if col.Name == "" {
		col.Name = cfg.Services.QdrantCollection
	}
	if col.Name == "" {
		col.Name = "memories"
	}
	if col.VectorSize == 0 {
		col.VectorSize = 768
	}
	if col.Distance == "" {
		col.Distance = "Cosine"
	}

	if cfg.Core.Model == "" {
		cfg.Core.Model = "openrouter/auto"
	}
	if cfg.Core.EmbeddingDims == 0 {
		cfg.Core.EmbeddingDims = 768
	}

	sec := &cfg.Security
	if sec.JWTAudience == "" {
		sec.JWTAudience = "memory-service"
	}
	if sec.JWTIssuer == "" {
		sec.JWTIssuer = "memory-service"
	}

	svc := &cfg.Services
	if svc.OpenRouterBaseURL == "" {
		svc.OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	}
	if svc.TEIBaseURL == "" {
		svc.TEIBaseURL = "http://localhost:3000"
	}
	if svc.QdrantURL == "" {
		svc.QdrantURL = "http://localhost:6334"
	}
	if svc.QdrantCollection == "" {
		svc.QdrantCollection = cfg.Core.Collection.Name
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
}

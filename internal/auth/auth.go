// Package auth resolves bearer credentials to an organization and
// enforces tenancy headers on every request.
//
// Two credential forms are accepted: static shared secrets mapped to an
// org in configuration, and RS256 JWTs verified against a JWKS endpoint
// with the org carried in the token claims.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
)

var (
	// ErrUnauthorized means the credential is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the credential is valid but does not grant
	// access to the requested tenant.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the resolved caller for one request.
type Identity struct {
	OrgID   string
	AgentID string
	Subject string
}

// jwksCacheTTL bounds how long fetched signing keys are reused.
const jwksCacheTTL = 10 * time.Minute

// Service authenticates bearer tokens and validates tenancy headers.
type Service struct {
	cfg    config.SecurityConfig
	logger *zap.Logger

	// secretToOrg inverts cfg.SharedSecrets for constant-time-ish lookup.
	secretToOrg map[string]string

	httpClient *http.Client

	mu          sync.Mutex
	jwksKeys    map[string]*rsa.PublicKey
	jwksFetched time.Time
}

// NewService creates an auth service from security configuration.
func NewService(cfg config.SecurityConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	secretToOrg := make(map[string]string, len(cfg.SharedSecrets))
	for org, secret := range cfg.SharedSecrets {
		if secret != "" {
			secretToOrg[secret] = org
		}
	}
	return &Service{
		cfg:         cfg,
		logger:      logger.Named("auth"),
		secretToOrg: secretToOrg,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Authenticate resolves a bearer token to an org. Shared secrets are
// checked first, then JWT verification when a JWKS URL is configured.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	if org, ok := s.secretToOrg[token]; ok {
		return org, nil
	}

	if s.cfg.JWKURL == "" {
		return "", fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return s.authenticateJWT(ctx, token)
}

// ValidateTenancy checks the X-Org-Id / X-Agent-Id headers against the
// org derived from the credential. With enforce_headers off, a missing
// org header falls back to the derived org.
func (s *Service) ValidateTenancy(derivedOrg, headerOrg, headerAgent string) (Identity, error) {
	if headerOrg == "" {
		if s.cfg.EnforceHeaders {
			return Identity{}, fmt.Errorf("%w: X-Org-Id header required", ErrForbidden)
		}
		headerOrg = derivedOrg
	}
	if headerOrg != derivedOrg {
		return Identity{}, fmt.Errorf("%w: org %q not granted by credential", ErrForbidden, headerOrg)
	}
	if headerAgent == "" {
		if s.cfg.EnforceHeaders {
			return Identity{}, fmt.Errorf("%w: X-Agent-Id header required", ErrForbidden)
		}
		headerAgent = "default"
	}
	return Identity{OrgID: headerOrg, AgentID: headerAgent}, nil
}

type orgClaims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

func (s *Service) authenticateJWT(ctx context.Context, token string) (string, error) {
	claims := &orgClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		return s.signingKey(ctx, kid)
	},
		jwt.WithAudience(s.cfg.JWTAudience),
		jwt.WithIssuer(s.cfg.JWTIssuer),
		jwt.WithValidMethods([]string{"RS256"}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	org := claims.OrgID
	if org == "" {
		org = claims.Subject
	}
	if org == "" {
		return "", fmt.Errorf("%w: token carries no org", ErrUnauthorized)
	}
	return org, nil
}

// signingKey returns the RSA key for a kid, fetching the JWKS when the
// cache is cold or stale. A single mutex serializes fetch and lookup.
func (s *Service) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jwksKeys == nil || time.Since(s.jwksFetched) > jwksCacheTTL {
		keys, err := s.fetchJWKS(ctx)
		if err != nil {
			if s.jwksKeys == nil {
				return nil, err
			}
			s.logger.Warn("jwks refresh failed, using cached keys", zap.Error(err))
		} else {
			s.jwksKeys = keys
			s.jwksFetched = time.Now()
		}
	}

	if key, ok := s.jwksKeys[kid]; ok {
		return key, nil
	}
	// A single-key set may omit kid on both sides.
	if kid == "" && len(s.jwksKeys) == 1 {
		for _, key := range s.jwksKeys {
			return key, nil
		}
	}
	return nil, fmt.Errorf("no signing key for kid %q", kid)
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (s *Service) fetchJWKS(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.JWKURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := parseRSAKey(k.N, k.E)
		if err != nil {
			s.logger.Warn("skipping unparseable jwks key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable RSA keys")
	}
	return keys, nil
}

func parseRSAKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

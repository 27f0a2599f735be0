package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/auth"
	"github.com/fyrsmithlabs/memoryd/internal/config"
)

func TestAuthenticateSharedSecret(t *testing.T) {
	svc := auth.NewService(config.SecurityConfig{
		SharedSecrets: map[string]string{"acme": "s3cret", "globex": "t0ken"},
	}, zap.NewNop())

	org, err := svc.Authenticate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acme", org)

	_, err = svc.Authenticate(context.Background(), "wrong")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestValidateTenancy(t *testing.T) {
	tests := []struct {
		name        string
		enforce     bool
		headerOrg   string
		headerAgent string
		wantOrg     string
		wantAgent   string
		wantErr     error
	}{
		{
			name:        "matching headers",
			enforce:     true,
			headerOrg:   "acme",
			headerAgent: "support-bot",
			wantOrg:     "acme",
			wantAgent:   "support-bot",
		},
		{
			name:      "org mismatch",
			enforce:   true,
			headerOrg: "globex",
			wantErr:   auth.ErrForbidden,
		},
		{
			name:    "missing org enforced",
			enforce: true,
			wantErr: auth.ErrForbidden,
		},
		{
			name:      "missing headers relaxed",
			enforce:   false,
			wantOrg:   "acme",
			wantAgent: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := auth.NewService(config.SecurityConfig{EnforceHeaders: tt.enforce}, zap.NewNop())
			identity, err := svc.ValidateTenancy("acme", tt.headerOrg, tt.headerAgent)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrg, identity.OrgID)
			assert.Equal(t, tt.wantAgent, identity.AgentID)
		})
	}
}

func TestAuthenticateJWT(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(doc))
	}))
	t.Cleanup(jwks.Close)

	svc := auth.NewService(config.SecurityConfig{
		JWTAudience: "memory-service",
		JWTIssuer:   "memory-service",
		JWKURL:      jwks.URL,
	}, zap.NewNop())

	sign := func(claims jwt.MapClaims) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-key"
		signed, err := token.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	t.Run("valid token", func(t *testing.T) {
		org, err := svc.Authenticate(context.Background(), sign(jwt.MapClaims{
			"org_id": "acme",
			"aud":    "memory-service",
			"iss":    "memory-service",
			"exp":    time.Now().Add(time.Hour).Unix(),
		}))
		require.NoError(t, err)
		assert.Equal(t, "acme", org)
	})

	t.Run("expired token", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), sign(jwt.MapClaims{
			"org_id": "acme",
			"aud":    "memory-service",
			"iss":    "memory-service",
			"exp":    time.Now().Add(-time.Hour).Unix(),
		}))
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := svc.Authenticate(context.Background(), sign(jwt.MapClaims{
			"org_id": "acme",
			"aud":    "someone-else",
			"iss":    "memory-service",
			"exp":    time.Now().Add(time.Hour).Unix(),
		}))
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	})
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", auth.BearerToken("Bearer abc"))
	assert.Equal(t, "abc", auth.BearerToken("bearer abc"))
	assert.Equal(t, "", auth.BearerToken("Basic abc"))
	assert.Equal(t, "", auth.BearerToken(""))
}

func TestMiddleware(t *testing.T) {
	svc := auth.NewService(config.SecurityConfig{
		SharedSecrets:  map[string]string{"acme": "s3cret"},
		EnforceHeaders: true,
	}, zap.NewNop())

	e := echo.New()
	e.GET("/probe", func(c echo.Context) error {
		identity, ok := auth.IdentityFrom(c)
		require.True(t, ok)
		return c.String(http.StatusOK, identity.OrgID+"/"+identity.AgentID)
	}, auth.Middleware(svc))

	do := func(headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("accepted", func(t *testing.T) {
		rec := do(map[string]string{
			"Authorization":    "Bearer s3cret",
			auth.HeaderOrgID:   "acme",
			auth.HeaderAgentID: "support-bot",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme/support-bot", rec.Body.String())
	})

	t.Run("bad token", func(t *testing.T) {
		rec := do(map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("org mismatch", func(t *testing.T) {
		rec := do(map[string]string{
			"Authorization":    "Bearer s3cret",
			auth.HeaderOrgID:   "globex",
			auth.HeaderAgentID: "support-bot",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

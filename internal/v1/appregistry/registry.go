// Package appregistry validates the app credential presented by a game
// server or client SDK on the WebSocket upgrade request, against an external
// Application Registry: a signed JWT identifying the app, its owning
// organization, and its current status and rate-limit tier. This replaces
// the per-user Auth0 identity check in the teacher with a per-application
// credential check, matching this spec's external collaborator list.
package appregistry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/meshplay/signalserver/internal/v1/cache"
	"github.com/meshplay/signalserver/internal/v1/logging"
	"github.com/meshplay/signalserver/internal/v1/metrics"
	"go.uber.org/zap"
)

// Status values an Application Registry may report for an app credential.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRevoked   = "revoked"
)

// AppClaims are the JWT claims an Application Registry issues for a game
// server's app credential.
type AppClaims struct {
	Organization string `json:"org"`
	Status       string `json:"status"`
	RateLimitTier string `json:"rate_limit_tier,omitempty"`
	jwt.RegisteredClaims
}

// Credential is the validated, cacheable result of checking an app token
// against the registry.
type Credential struct {
	AppID         string    `json:"app_id"`
	Organization  string    `json:"org"`
	Status        string    `json:"status"`
	RateLimitTier string    `json:"rate_limit_tier,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Active reports whether the credential is presently usable: not expired,
// not suspended, not revoked.
func (c *Credential) Active() bool {
	if c == nil {
		return false
	}
	if c.Status != StatusActive {
		return false
	}
	if !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt) {
		return false
	}
	return true
}

// Registry validates app credentials presented by connecting clients.
type Registry interface {
	Validate(ctx context.Context, token string) (*Credential, error)
}

// JWKSRegistry validates app tokens against a JWKS-published Application
// Registry, the same shape as the teacher's Auth0 validator generalized from
// per-user identity to per-application credentials.
type JWKSRegistry struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWKSRegistry parses the issuer URL, registers its JWKS endpoint with a
// refreshing cache, and fetches the keys once to confirm connectivity.
func NewJWKSRegistry(ctx context.Context, domain, audience string, regOpts ...jwk.RegisterOption) (*JWKSRegistry, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer URL: %w", err)
	}

	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	jwkCache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}
	opts = append(opts, regOpts...)

	if err := jwkCache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}

	if _, err := jwkCache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := jwkCache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}

		return pubKey, nil
	}

	return &JWKSRegistry{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: audience,
	}, nil
}

// Validate parses and verifies an app token, returning the credential it
// carries.
func (r *JWKSRegistry) Validate(ctx context.Context, tokenString string) (*Credential, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, r.keyFunc,
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("app token is invalid")
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to AppClaims")
	}

	cred := &Credential{
		AppID:         claims.Subject,
		Organization:  claims.Organization,
		Status:        claims.Status,
		RateLimitTier: claims.RateLimitTier,
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}
	return cred, nil
}

// CachingRegistry wraps a Registry with a Redis-backed cache, so repeated
// connections from the same app don't re-verify the JWKS signature on every
// upgrade. A cache miss, or a degraded (circuit-open) cache, falls through to
// the wrapped registry.
type CachingRegistry struct {
	inner Registry
	cache *cache.Service
	ttl   time.Duration
}

// NewCachingRegistry wraps inner with a cache of the given TTL. cacheService
// may be nil, in which case every call falls through to inner.
func NewCachingRegistry(inner Registry, cacheService *cache.Service, ttl time.Duration) *CachingRegistry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachingRegistry{inner: inner, cache: cacheService, ttl: ttl}
}

// Validate checks the cache first, falling through to the wrapped registry
// on miss, and populates the cache on a fresh lookup.
func (r *CachingRegistry) Validate(ctx context.Context, token string) (*Credential, error) {
	appID := uncachedAppID(token)
	if appID != "" && r.cache != nil {
		var cred Credential
		if ok, err := r.cache.GetAppCredential(ctx, appID, &cred); err == nil && ok {
			return &cred, nil
		}
	}

	cred, err := r.inner.Validate(ctx, token)
	if err != nil {
		metrics.AppRegistryLookups.WithLabelValues("registry", "error").Inc()
		return nil, err
	}
	metrics.AppRegistryLookups.WithLabelValues("registry", "success").Inc()

	if r.cache != nil {
		if err := r.cache.SetAppCredential(ctx, cred.AppID, cred, r.ttl); err != nil {
			logging.Warn(ctx, "failed to cache app credential", zap.Error(err))
		}
	}

	return cred, nil
}

// uncachedAppID extracts the JWT subject claim without verifying the
// signature, purely to use as a cache lookup key before the expensive
// signature check runs.
func uncachedAppID(tokenString string) string {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// GetAllowedOriginsFromEnv reads a comma-separated origin list from an env
// var, falling back to sensible local-development defaults.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set, using default development origins: %v", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

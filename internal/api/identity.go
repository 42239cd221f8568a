// Package api implements the thin REST-like control plane and SSE
// streaming channel §6 describes as external interfaces: HTTP routing, the
// identity boundary, and wire codecs in front of the core orchestrator,
// tool catalog, access, and event-store packages. None of this package's
// concerns are part of the core's testable surface; it exists to make the
// core runnable.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Identity is the caller identity extracted from a verified bearer token or
// session cookie (§6 "Identity boundary"): the subject, its roles/scopes
// (consumed by agent-definition access rules and claim matchers), and the
// full claim set (consumed by §4.3 claim matcher evaluation).
type Identity struct {
	UserID string
	Roles  []string
	Scopes []string
	Claims map[string]any
	Token  string
}

type identityContextKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the Identity attached by the auth
// middleware, or nil if the request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}

// Verifier validates bearer tokens against an identity provider's JWKS
// endpoint, caching and auto-refreshing the key set (§6: "validated via
// the identity provider's JWKS"), grounded on kadirpekel-hector's
// pkg/auth.JWTValidator.
type Verifier struct {
	jwksURL  string
	issuer   string
	audience string
	cache    *jwk.Cache
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// NewVerifier constructs a Verifier, performing an initial JWKS fetch so
// misconfiguration is caught at startup rather than on the first request.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", cfg.JWKSURL, err)
	}
	return &Verifier{jwksURL: cfg.JWKSURL, issuer: cfg.Issuer, audience: cfg.Audience, cache: cache}, nil
}

// Verify validates tokenString's signature, issuer, audience, and
// expiration, and extracts its claims into an Identity.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	opts := []jwt.ParseOption{jwt.WithKeySet(keyset), jwt.WithValidate(true)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := map[string]any{"sub": token.Subject()}
	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		if key, ok := pair.Key.(string); ok {
			claims[key] = pair.Value
		}
	}

	return &Identity{
		UserID: token.Subject(),
		Roles:  stringSlice(claims["roles"]),
		Scopes: scopeSlice(claims["scope"], claims["scopes"]),
		Claims: claims,
		Token:  tokenString,
	}, nil
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(t)
	default:
		return nil
	}
}

func scopeSlice(scopeClaim, scopesClaim any) []string {
	if s, ok := scopeClaim.(string); ok {
		return strings.Fields(s)
	}
	return stringSlice(scopesClaim)
}

// claimsWithToken copies id's claims and adds the raw bearer credential
// under "bearer_token", the key the tool pipeline's delegated-identity
// phase reads the caller token from (§4.2: the pipeline "is the only code
// that holds and delegates the caller's identity").
func claimsWithToken(id *Identity) map[string]any {
	out := make(map[string]any, len(id.Claims)+1)
	for k, v := range id.Claims {
		out[k] = v
	}
	out["bearer_token"] = id.Token
	return out
}

// bearerCookieName is the session cookie name checked when no Authorization
// header is present (§6: "a session cookie... or a bearer token").
const bearerCookieName = "session_token"

// extractToken reads the caller's credential from either the Authorization
// header (Bearer scheme) or the session cookie (§6 "Identity boundary").
func extractToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix), true
		}
		return "", false
	}
	if c, err := r.Cookie(bearerCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

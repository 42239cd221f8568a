package toolexec

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/bvandewe/agent-gateway/internal/errkind"
)

// RFC 8693 token-exchange grant parameters (§6 "Token exchange wire").
// golang.org/x/oauth2 has no native grant for this exchange type, so the
// request is built as a plain form-encoded POST, grounded on the teacher's
// own oauth2.Config/oauth2.Token usage (haasonsaas-nexus
// internal/auth/oauth.go): a hand-rolled HTTP round trip that still
// represents its result as an *oauth2.Token for consistency with the rest
// of the pack's oauth2 surface.
const (
	tokenExchangeGrantType  = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenExchangeTokenType  = "urn:ietf:params:oauth:token-type:access_token"
	tokenExchangeMaxRetries = 3
)

// ExchangerConfig configures an Exchanger against a single identity
// provider token endpoint.
type ExchangerConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	DefaultTTL   time.Duration
}

// Exchanger performs RFC 8693 delegated-identity token exchange (§4.2 phase
// 3), caching results per (subject, audience) and coalescing concurrent
// requests for the same key.
type Exchanger struct {
	cfg   ExchangerConfig
	group coalesceGroup[string, exchangeOutcome]

	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	token    *oauth2.Token
	expires  time.Time
	warnings []string
}

// exchangeOutcome pairs an exchanged token with any non-fatal warnings
// observed during the exchange, such as a narrower-than-requested scope.
type exchangeOutcome struct {
	token    *oauth2.Token
	scope    string
	warnings []string
}

// NewExchanger constructs an Exchanger against cfg's identity provider.
func NewExchanger(cfg ExchangerConfig) *Exchanger {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	return &Exchanger{cfg: cfg, cache: make(map[string]cachedToken)}
}

// Exchange trades callerToken for one scoped to audience, presenting the
// RFC 8693 grant. Results are cached keyed by (subject, audience) with TTL
// bounded by the exchanged token's exp (§4.2 phase 3). requiredScopes is the
// tool's source's declared RequiredScopes; if the token exchange endpoint
// grants a narrower scope than requested, Exchange returns a
// "token_exchange_narrow_scope" warning rather than failing the call
// (SPEC_FULL.md supplemented feature: narrow-scope exchanges still execute,
// flagged so callers can audit degraded delegation).
func (e *Exchanger) Exchange(ctx context.Context, callerToken, audience string, requiredScopes []string) (*oauth2.Token, []string, error) {
	key := cacheKey(callerToken, audience)

	e.mu.Lock()
	if cached, ok := e.cache[key]; ok && time.Now().Before(cached.expires) {
		e.mu.Unlock()
		return cached.token, cached.warnings, nil
	}
	e.mu.Unlock()

	outcome, err := e.group.Do(key, func() (exchangeOutcome, error) {
		return e.exchangeWithRetry(ctx, callerToken, audience)
	})
	if err != nil {
		return nil, nil, err
	}

	warnings := narrowScopeWarnings(outcome.scope, requiredScopes)

	expires := time.Now().Add(e.cfg.DefaultTTL)
	if !outcome.token.Expiry.IsZero() {
		expires = outcome.token.Expiry
	}
	e.mu.Lock()
	e.cache[key] = cachedToken{token: outcome.token, expires: expires, warnings: warnings}
	e.mu.Unlock()
	return outcome.token, warnings, nil
}

// narrowScopeWarnings compares the space-delimited scope string returned by
// the token endpoint against the scopes the tool's source requires,
// returning one warning per scope the exchange failed to grant.
func narrowScopeWarnings(grantedScope string, requiredScopes []string) []string {
	if len(requiredScopes) == 0 || grantedScope == "" {
		return nil
	}
	granted := make(map[string]bool)
	for _, s := range strings.Fields(grantedScope) {
		granted[s] = true
	}
	var warnings []string
	for _, want := range requiredScopes {
		if !granted[want] {
			warnings = append(warnings, fmt.Sprintf("token_exchange_narrow_scope: missing %q", want))
		}
	}
	return warnings
}

// cacheKey uses a hash of the caller token rather than the raw bearer value
// so cached entries never retain the credential itself in memory longer
// than necessary.
func cacheKey(callerToken, audience string) string {
	return fmt.Sprintf("%x:%s", hashToken(callerToken), audience)
}

func hashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

func (e *Exchanger) exchangeWithRetry(ctx context.Context, callerToken, audience string) (exchangeOutcome, error) {
	var lastErr error
	for attempt := 0; attempt < tokenExchangeMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return exchangeOutcome{}, errkind.Wrap(errkind.Cancelled, ctx.Err(), "token exchange cancelled")
			case <-time.After(delay):
			}
		}
		outcome, err := e.exchangeOnce(ctx, callerToken, audience)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !errkind.IsRetryable(err) {
			return exchangeOutcome{}, err
		}
	}
	return exchangeOutcome{}, lastErr
}

func (e *Exchanger) exchangeOnce(ctx context.Context, callerToken, audience string) (exchangeOutcome, error) {
	form := url.Values{
		"grant_type":         {tokenExchangeGrantType},
		"subject_token":      {callerToken},
		"subject_token_type": {tokenExchangeTokenType},
		"audience":           {audience},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return exchangeOutcome{}, errkind.Wrap(errkind.Internal, err, "build token exchange request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if e.cfg.ClientID != "" {
		req.SetBasicAuth(e.cfg.ClientID, e.cfg.ClientSecret)
	}

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return exchangeOutcome{}, errkind.Wrap(errkind.TokenExchangeFailed, err, "token exchange request failed").WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return exchangeOutcome{}, errkind.Wrap(errkind.TokenExchangeFailed, err, "read token exchange response").WithRetryable(true)
	}

	if resp.StatusCode >= 500 {
		return exchangeOutcome{}, errkind.Newf(errkind.TokenExchangeFailed, "token exchange returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))).WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return exchangeOutcome{}, errkind.Newf(errkind.TokenExchangeFailed, "token exchange returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))).WithRetryable(false)
	}

	var payload struct {
		AccessToken     string `json:"access_token"`
		TokenType       string `json:"token_type"`
		ExpiresIn       int64  `json:"expires_in"`
		IssuedTokenType string `json:"issued_token_type"`
		Scope           string `json:"scope"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return exchangeOutcome{}, errkind.Wrap(errkind.TokenExchangeFailed, err, "decode token exchange response")
	}
	if payload.AccessToken == "" {
		return exchangeOutcome{}, errkind.New(errkind.TokenExchangeFailed, "token exchange response missing access_token")
	}

	tok := &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
	}
	if payload.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return exchangeOutcome{token: tok, scope: payload.Scope}, nil
}

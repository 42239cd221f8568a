package toolexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newExchangeServer(t *testing.T, scope string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "exchanged-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        scope,
		})
	}))
}

func TestExchangeReturnsNoWarningsWhenScopeSatisfied(t *testing.T) {
	srv := newExchangeServer(t, "read write")
	defer srv.Close()

	ex := NewExchanger(ExchangerConfig{TokenURL: srv.URL})
	tok, warnings, err := ex.Exchange(context.Background(), "caller-token", "aud-1", []string{"read", "write"})
	require.NoError(t, err)
	require.Equal(t, "exchanged-token", tok.AccessToken)
	require.Empty(t, warnings)
}

func TestExchangeWarnsOnNarrowerScope(t *testing.T) {
	srv := newExchangeServer(t, "read")
	defer srv.Close()

	ex := NewExchanger(ExchangerConfig{TokenURL: srv.URL})
	tok, warnings, err := ex.Exchange(context.Background(), "caller-token", "aud-1", []string{"read", "write"})
	require.NoError(t, err)
	require.Equal(t, "exchanged-token", tok.AccessToken)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "write")
}

func TestExchangeSkipsScopeCheckWhenProviderOmitsScope(t *testing.T) {
	srv := newExchangeServer(t, "")
	defer srv.Close()

	ex := NewExchanger(ExchangerConfig{TokenURL: srv.URL})
	_, warnings, err := ex.Exchange(context.Background(), "caller-token", "aud-1", []string{"read"})
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestExchangeCachesWarningsAlongsideToken(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "exchanged-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "read",
		})
	}))
	defer srv.Close()

	ex := NewExchanger(ExchangerConfig{TokenURL: srv.URL})
	_, w1, err := ex.Exchange(context.Background(), "caller-token", "aud-1", []string{"read", "write"})
	require.NoError(t, err)
	_, w2, err := ex.Exchange(context.Background(), "caller-token", "aud-1", []string{"read", "write"})
	require.NoError(t, err)

	require.Equal(t, 1, hits, "second exchange should hit the cache")
	require.Equal(t, w1, w2)
}

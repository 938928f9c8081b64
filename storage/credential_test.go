package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenProvider_ServicePrincipal(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenant-1/oauth2/v2.0/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		assert.Equal(t, "https://storage.azure.com/.default", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"sp-token","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewTokenProvider(TokenCredentialConfig{
		TenantID:      "tenant-1",
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		AuthorityHost: server.URL,
	}, logger)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sp-token", token)

	// Stored expiry carries the refresh margin
	assert.Equal(t, now.Add(3600*time.Second-tokenRefreshMargin), p.cache.expiresAt)

	// Cached until the margin is reached
	now = now.Add(54 * time.Minute)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), requests.Load())

	// Refreshed once expired
	now = now.Add(2 * time.Minute)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestTokenProvider_ManagedIdentity(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		body     string
		ttl      time.Duration
	}{
		{
			name: "system assigned with string expiry",
			body: `{"access_token":"mi-token","expires_in":"7200"}`,
			ttl:  7200 * time.Second,
		},
		{
			name:     "user assigned with numeric expiry",
			clientID: "uami-1",
			body:     `{"access_token":"mi-token","expires_in":1800}`,
			ttl:      1800 * time.Second,
		},
		{
			name: "missing expiry defaults to one hour",
			body: `{"access_token":"mi-token"}`,
			ttl:  defaultTokenTTL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/metadata/identity/oauth2/token", r.URL.Path)
				assert.Equal(t, "true", r.Header.Get("Metadata"))
				assert.Equal(t, "2019-08-01", r.URL.Query().Get("api-version"))
				assert.Equal(t, "https://storage.azure.com/", r.URL.Query().Get("resource"))
				assert.Equal(t, tt.clientID, r.URL.Query().Get("client_id"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			p := NewTokenProvider(TokenCredentialConfig{
				ClientID:     tt.clientID,
				IMDSEndpoint: server.URL,
			}, logger)

			now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			p.now = func() time.Time { return now }

			token, err := p.Token(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "mi-token", token)
			assert.Equal(t, now.Add(tt.ttl-tokenRefreshMargin), p.cache.expiresAt)
		})
	}
}

func TestTokenProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{
			name:     "rejected credentials",
			status:   http.StatusUnauthorized,
			body:     `{"error":"invalid_client"}`,
			expected: interfaces.ErrUnauthorized,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":"invalid_request"}`,
			expected: interfaces.ErrUnauthorized,
		},
		{
			name:     "server error",
			status:   http.StatusServiceUnavailable,
			expected: interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			p := NewTokenProvider(TokenCredentialConfig{
				TenantID:      "t",
				ClientID:      "c",
				ClientSecret:  "super-secret",
				AuthorityHost: server.URL,
			}, logger)

			_, err := p.Token(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)
			assert.NotContains(t, err.Error(), "super-secret")
			assert.Nil(t, p.cache)
		})
	}

	t.Run("endpoint unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		server.Close()

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		p := NewTokenProvider(TokenCredentialConfig{IMDSEndpoint: server.URL}, logger)

		_, err := p.Token(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}

func TestTokenProvider_ConcurrentSingleExchange(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"access_token":"shared-token","expires_in":3600}`))
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewTokenProvider(TokenCredentialConfig{IMDSEndpoint: server.URL}, logger)

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = p.Token(context.Background())
		}(i)
	}

	// Let every caller queue up behind the first exchange
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), requests.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", tokens[i])
	}
}

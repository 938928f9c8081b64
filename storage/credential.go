package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
)

const (
	// storageScope is the OAuth2 scope for blob storage data-plane access.
	storageScope = "https://storage.azure.com/.default"
	// storageResource is the IMDS resource identifier for blob storage.
	storageResource = "https://storage.azure.com/"

	defaultAuthorityHost = "https://login.microsoftonline.com"
	defaultIMDSEndpoint  = "http://169.254.169.254"

	// tokenRefreshMargin is subtracted from the provider TTL so tokens are
	// refreshed before the backend would reject them.
	tokenRefreshMargin = 300 * time.Second
	defaultTokenTTL    = 3600 * time.Second

	tokenRequestTimeout = 30 * time.Second
	imdsRequestTimeout  = 5 * time.Second
)

// TokenCredentialConfig selects and parameterizes the bearer-token source.
// With TenantID, ClientID and ClientSecret all set, the service principal
// client-credentials flow is used; otherwise the managed identity endpoint is
// queried, scoped to ClientID when present.
type TokenCredentialConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// AuthorityHost overrides the identity endpoint (sovereign clouds, tests).
	AuthorityHost string
	// IMDSEndpoint overrides the local metadata endpoint (tests).
	IMDSEndpoint string
}

func (c TokenCredentialConfig) servicePrincipal() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// TokenProvider acquires and caches OAuth2 bearer tokens for storage access.
// It is safe for concurrent use; at most one token exchange is in flight per
// expiry cycle.
type TokenProvider struct {
	cfg        TokenCredentialConfig
	client     *http.Client
	imdsClient *http.Client
	log        *slog.Logger
	now        func() time.Time

	mu    sync.RWMutex
	cache *cachedToken
}

// NewTokenProvider creates a provider for the credential source described by cfg.
func NewTokenProvider(cfg TokenCredentialConfig, log *slog.Logger) *TokenProvider {
	if cfg.AuthorityHost == "" {
		cfg.AuthorityHost = defaultAuthorityHost
	}
	if cfg.IMDSEndpoint == "" {
		cfg.IMDSEndpoint = defaultIMDSEndpoint
	}

	switch {
	case cfg.servicePrincipal():
		log.Info("Storage RBAC: using service principal credentials")
	case cfg.ClientID != "":
		log.Info("Storage RBAC: using user-assigned managed identity")
	default:
		log.Info("Storage RBAC: using system-assigned managed identity")
	}

	return &TokenProvider{
		cfg:        cfg,
		client:     &http.Client{Timeout: tokenRequestTimeout},
		imdsClient: &http.Client{Timeout: imdsRequestTimeout},
		log:        log,
		now:        time.Now,
	}
}

// Token returns a valid access token, exchanging credentials if the cached
// token is absent or expired.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	if tok, ok := p.validLocked(); ok {
		p.mu.RUnlock()
		return tok, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if tok, ok := p.validLocked(); ok {
		return tok, nil
	}

	token, err := p.acquire(ctx)
	if err != nil {
		return "", err
	}
	p.cache = token
	return token.accessToken, nil
}

func (p *TokenProvider) validLocked() (string, bool) {
	if p.cache != nil && p.now().Before(p.cache.expiresAt) {
		return p.cache.accessToken, true
	}
	return "", false
}

func (p *TokenProvider) acquire(ctx context.Context) (*cachedToken, error) {
	if p.cfg.servicePrincipal() {
		return p.acquireServicePrincipal(ctx)
	}
	return p.acquireManagedIdentity(ctx)
}

func (p *TokenProvider) acquireServicePrincipal(ctx context.Context) (*cachedToken, error) {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token",
		strings.TrimSuffix(p.cfg.AuthorityHost, "/"), url.PathEscape(p.cfg.TenantID))

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"scope":         {storageScope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to request identity token: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	return p.parseTokenResponse(resp, "identity endpoint")
}

func (p *TokenProvider) acquireManagedIdentity(ctx context.Context) (*cachedToken, error) {
	query := url.Values{
		"api-version": {"2019-08-01"},
		"resource":    {storageResource},
	}
	if p.cfg.ClientID != "" {
		query.Set("client_id", p.cfg.ClientID)
	}
	imdsURL := strings.TrimSuffix(p.cfg.IMDSEndpoint, "/") + "/metadata/identity/oauth2/token?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imdsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create IMDS request: %w", err)
	}
	req.Header.Set("Metadata", "true")

	resp, err := p.imdsClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reach managed identity endpoint (not running on a managed host?): %v",
			interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	return p.parseTokenResponse(resp, "managed identity endpoint")
}

// tokenResponse accepts expires_in as a number (identity endpoint) or a
// string (IMDS).
type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (p *TokenProvider) parseTokenResponse(resp *http.Response, source string) (*cachedToken, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sentinel := interfaces.ErrBackendUnavailable
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			sentinel = interfaces.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %s returned status %d", sentinel, source, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("token response from %s missing access_token", source)
	}

	ttl := parseExpiresIn(parsed.ExpiresIn)
	p.log.Debug("Acquired storage RBAC token", slog.Duration("expires_in", ttl))

	return &cachedToken{
		accessToken: parsed.AccessToken,
		expiresAt:   p.now().Add(ttl - tokenRefreshMargin),
	}, nil
}

func parseExpiresIn(raw json.RawMessage) time.Duration {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return defaultTokenTTL
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultTokenTTL
	}
	return time.Duration(secs) * time.Second
}

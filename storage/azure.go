package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
)

const (
	azureAPIVersion    = "2021-06-08"
	azureContentType   = "application/octet-stream"
	azureClientTimeout = 30 * time.Second

	// Lifetimes of the internal SAS URLs used for shared-key reads.
	azureReadSASTTL = 300 * time.Second
	azureHeadSASTTL = 60 * time.Second

	defaultSASExpiry = 3600 * time.Second
)

// AuthMode is how the blob backend authenticates its requests.
type AuthMode string

const (
	// AuthModeSharedKey signs each request with HMAC-SHA256 over a decoded account key.
	AuthModeSharedKey AuthMode = "shared_key"
	// AuthModeRBAC presents an OAuth2 bearer token from a TokenProvider.
	AuthModeRBAC AuthMode = "rbac"
)

// ResolveAuthMode selects shared-key signing when an access key is
// configured and bearer-token auth otherwise.
func ResolveAuthMode(accessKey string) AuthMode {
	if accessKey != "" {
		return AuthModeSharedKey
	}
	return AuthModeRBAC
}

// IsRedirectCompatible reports whether redirect downloads can be honored.
// SAS URLs need the shared key, so redirects without one are incompatible.
func IsRedirectCompatible(accessKey string, redirectDownloads bool) bool {
	return !(redirectDownloads && accessKey == "")
}

// AzureConfig configures an AzureBlobBackend.
type AzureConfig struct {
	AccountName   string
	ContainerName string
	// AccessKey is the base64-encoded account key. Empty selects RBAC mode.
	AccessKey string
	// Endpoint overrides https://{account}.blob.core.windows.net.
	Endpoint string
	// AllowHTTP silences the warning for non-HTTPS endpoints.
	AllowHTTP bool

	RedirectDownloads bool
	SASExpiry         time.Duration
	PathFormat        interfaces.PathFormat

	// Credential configures the token source used in RBAC mode.
	Credential TokenCredentialConfig
}

type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// AzureBlobBackend implements interfaces.StorageBackend on Azure Blob Storage.
type AzureBlobBackend struct {
	cfg        AzureConfig
	client     *http.Client
	mode       AuthMode
	decodedKey []byte
	tokens     tokenSource
	redirect   bool
	log        *slog.Logger
	now        func() time.Time
}

// NewAzureBlobBackend validates cfg and resolves the auth mode. An invalid
// access key is a configuration error. Redirects requested without an
// access key are disabled with a warning.
func NewAzureBlobBackend(cfg AzureConfig, log *slog.Logger) (*AzureBlobBackend, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("%w: azure account name not set", interfaces.ErrInvalidConfig)
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("%w: azure container name not set", interfaces.ErrInvalidConfig)
	}
	if cfg.SASExpiry <= 0 {
		cfg.SASExpiry = defaultSASExpiry
	}
	if cfg.PathFormat == "" {
		cfg.PathFormat = interfaces.PathFormatNative
	}

	if cfg.Endpoint != "" && !cfg.AllowHTTP && !strings.HasPrefix(cfg.Endpoint, "https://") {
		log.Warn("Azure storage endpoint is not HTTPS, set allow-http for local development",
			slog.String("endpoint", cfg.Endpoint))
	}

	b := &AzureBlobBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: azureClientTimeout},
		mode:   ResolveAuthMode(cfg.AccessKey),
		log:    log,
		now:    time.Now,
	}

	switch b.mode {
	case AuthModeSharedKey:
		key, err := base64.StdEncoding.DecodeString(cfg.AccessKey)
		if err != nil {
			return nil, fmt.Errorf("%w: azure access key is not valid base64", interfaces.ErrInvalidConfig)
		}
		b.decodedKey = key
	case AuthModeRBAC:
		b.tokens = NewTokenProvider(cfg.Credential, log)
	}

	b.redirect = cfg.RedirectDownloads
	if !IsRedirectCompatible(cfg.AccessKey, cfg.RedirectDownloads) {
		log.Warn("Redirect downloads are enabled but no access key is set; SAS URL generation requires an access key, redirect downloads will be disabled")
		b.redirect = false
	}

	if cfg.PathFormat != interfaces.PathFormatNative {
		log.Info("Azure storage path format configured", slog.String("path_format", string(cfg.PathFormat)))
	}
	log.Info("Azure storage auth mode", slog.String("auth_mode", string(b.mode)))

	return b, nil
}

// AuthMode returns the resolved authentication mode.
func (b *AzureBlobBackend) AuthMode() AuthMode {
	return b.mode
}

// Put uploads content as a block blob.
func (b *AzureBlobBackend) Put(ctx context.Context, key string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.blobURL(key), bytes.NewReader(content))
	if err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: err}
	}
	req.ContentLength = int64(len(content))
	req.Header.Set("Content-Type", azureContentType)
	req.Header.Set("x-ms-blob-type", "BlockBlob")

	if err := b.authorize(ctx, req, key); err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: err}
	}

	resp, err := b.do(req)
	if err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: err}
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return &interfaces.StorageError{Op: "put", Key: key, Err: statusErr(resp)}
	}

	b.log.Debug("Stored blob", slog.String("key", key), slog.Int("size", len(content)))
	return nil
}

// Get downloads the blob at key, consulting the legacy layout on a miss in
// migration mode.
func (b *AzureBlobBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.get(ctx, key)
	if !errors.Is(err, interfaces.ErrContentNotFound) || !b.cfg.PathFormat.HasFallback() {
		return data, err
	}

	fallback, ok := LegacyFallbackKey(key)
	if !ok {
		return nil, err
	}

	b.log.Debug("Trying legacy fallback path", slog.String("original", key), slog.String("fallback", fallback))
	data, ferr := b.get(ctx, fallback)
	if ferr != nil {
		if errors.Is(ferr, interfaces.ErrContentNotFound) {
			return nil, err
		}
		return nil, ferr
	}

	b.log.Info("Found artifact at legacy fallback path", slog.String("key", key), slog.String("fallback", fallback))
	return data, nil
}

func (b *AzureBlobBackend) get(ctx context.Context, key string) ([]byte, error) {
	req, err := b.readRequest(ctx, http.MethodGet, key, azureReadSASTTL)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: err}
	}

	resp, err := b.do(req)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: interfaces.ErrContentNotFound}
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: statusErr(resp)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key,
			Err: fmt.Errorf("%w: failed to read response: %w", interfaces.ErrBackendUnavailable, err)}
	}
	return data, nil
}

// Exists issues a HEAD for key, and for the legacy key in migration mode.
func (b *AzureBlobBackend) Exists(ctx context.Context, key string) (bool, error) {
	found, err := b.head(ctx, key)
	if err != nil || found || !b.cfg.PathFormat.HasFallback() {
		return found, err
	}

	fallback, ok := LegacyFallbackKey(key)
	if !ok {
		return false, nil
	}

	found, err = b.head(ctx, fallback)
	if err != nil {
		return false, err
	}
	if found {
		b.log.Debug("Found artifact at legacy fallback path", slog.String("key", key), slog.String("fallback", fallback))
	}
	return found, nil
}

func (b *AzureBlobBackend) head(ctx context.Context, key string) (bool, error) {
	req, err := b.readRequest(ctx, http.MethodHead, key, azureHeadSASTTL)
	if err != nil {
		return false, &interfaces.StorageError{Op: "exists", Key: key, Err: err}
	}

	resp, err := b.do(req)
	if err != nil {
		return false, &interfaces.StorageError{Op: "exists", Key: key, Err: err}
	}
	defer drain(resp)

	switch {
	case isSuccess(resp.StatusCode):
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, &interfaces.StorageError{Op: "exists", Key: key, Err: statusErr(resp)}
	}
}

// Delete removes the blob. A missing blob is not an error.
func (b *AzureBlobBackend) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.blobURL(key), nil)
	if err != nil {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: err}
	}
	if err := b.authorize(ctx, req, key); err != nil {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: err}
	}

	resp, err := b.do(req)
	if err != nil {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: err}
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) && resp.StatusCode != http.StatusNotFound {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: statusErr(resp)}
	}
	return nil
}

// SupportsRedirect is true only in shared-key mode with redirects enabled.
func (b *AzureBlobBackend) SupportsRedirect() bool {
	return b.redirect && b.mode == AuthModeSharedKey
}

// PresignedURL returns a read-only SAS URL for key valid for ttl.
func (b *AzureBlobBackend) PresignedURL(ctx context.Context, key string, ttl time.Duration) (*interfaces.PresignedURL, error) {
	if !b.SupportsRedirect() {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = b.cfg.SASExpiry
	}

	sasURL, err := b.sasURL(key, ttl)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "presign", Key: key, Err: err}
	}

	b.log.Debug("Generated SAS URL", slog.String("key", key), slog.Duration("expires_in", ttl))
	return &interfaces.PresignedURL{
		URL:       sasURL,
		ExpiresIn: ttl,
		Source:    interfaces.SourceAzure,
	}, nil
}

// Name returns a unique identifier for this storage backend.
func (b *AzureBlobBackend) Name() string {
	return fmt.Sprintf("azure-%s-%s", b.cfg.AccountName, b.cfg.ContainerName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *AzureBlobBackend) LocationURI() string {
	return fmt.Sprintf("azure://%s/%s", b.cfg.AccountName, b.cfg.ContainerName)
}

func (b *AzureBlobBackend) baseURL() string {
	if b.cfg.Endpoint != "" {
		return strings.TrimSuffix(b.cfg.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", b.cfg.AccountName)
}

func (b *AzureBlobBackend) blobURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", b.baseURL(), b.cfg.ContainerName, strings.Join(segments, "/"))
}

// readRequest builds a GET or HEAD. Shared-key reads go through a short-lived
// SAS URL; RBAC reads carry the bearer token.
func (b *AzureBlobBackend) readRequest(ctx context.Context, method, key string, sasTTL time.Duration) (*http.Request, error) {
	if b.mode == AuthModeSharedKey {
		sasURL, err := b.sasURL(key, sasTTL)
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, method, sasURL, nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.blobURL(key), nil)
	if err != nil {
		return nil, err
	}
	if err := b.authorize(ctx, req, key); err != nil {
		return nil, err
	}
	return req, nil
}

// authorize stamps the date and version headers and the Authorization header
// for the active auth mode.
func (b *AzureBlobBackend) authorize(ctx context.Context, req *http.Request, key string) error {
	req.Header.Set("x-ms-date", b.now().UTC().Format(http.TimeFormat))
	req.Header.Set("x-ms-version", azureAPIVersion)

	if b.mode == AuthModeRBAC {
		token, err := b.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}

	stringToSign := sharedKeyStringToSign(req.Method, req.ContentLength, req.Header,
		fmt.Sprintf("/%s/%s/%s", b.cfg.AccountName, b.cfg.ContainerName, key))
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", b.cfg.AccountName, b.sign(stringToSign)))
	return nil
}

func (b *AzureBlobBackend) sign(stringToSign string) string {
	mac := hmac.New(sha256.New, b.decodedKey)
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// sharedKeyStringToSign builds the canonical request string: verb, the
// standard headers in fixed order, the x-ms-* headers sorted by name, and the
// canonicalized resource.
func sharedKeyStringToSign(verb string, contentLength int64, header http.Header, resource string) string {
	length := ""
	if contentLength > 0 {
		length = strconv.FormatInt(contentLength, 10)
	}

	var sb strings.Builder
	sb.WriteString(verb + "\n")
	sb.WriteString(header.Get("Content-Encoding") + "\n")
	sb.WriteString(header.Get("Content-Language") + "\n")
	sb.WriteString(length + "\n")
	sb.WriteString(header.Get("Content-MD5") + "\n")
	sb.WriteString(header.Get("Content-Type") + "\n")
	// Date, If-Modified-Since, If-Match, If-None-Match, If-Unmodified-Since, Range
	sb.WriteString(strings.Repeat("\n", 6))

	var names []string
	for name := range header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(name + ":" + strings.TrimSpace(header.Get(name)) + "\n")
	}

	sb.WriteString(resource)
	return sb.String()
}

// sasToken builds a read-only service SAS for one blob.
func (b *AzureBlobBackend) sasToken(key string, ttl time.Duration) (string, error) {
	if b.mode != AuthModeSharedKey {
		return "", fmt.Errorf("%w: SAS generation requires shared key auth", interfaces.ErrInvalidConfig)
	}

	const (
		permissions = "r"
		protocol    = "https"
		resource    = "b"
		timeLayout  = "2006-01-02T15:04:05Z"
	)
	now := b.now().UTC()
	start := now.Format(timeLayout)
	expiry := now.Add(ttl).Format(timeLayout)
	canonical := fmt.Sprintf("/blob/%s/%s/%s", b.cfg.AccountName, b.cfg.ContainerName, key)

	// sp, st, se, canonicalizedResource, si, sip, spr, sv, sr,
	// snapshotTime, encryptionScope, rscc, rscd, rsce, rscl, rsct
	stringToSign := strings.Join([]string{
		permissions, start, expiry, canonical, "", "", protocol, azureAPIVersion, resource,
		"", "", "", "", "", "", "",
	}, "\n")
	signature := b.sign(stringToSign)

	return fmt.Sprintf("sv=%s&st=%s&se=%s&sr=%s&sp=%s&spr=%s&sig=%s",
		url.QueryEscape(azureAPIVersion),
		url.QueryEscape(start),
		url.QueryEscape(expiry),
		resource,
		permissions,
		protocol,
		url.QueryEscape(signature),
	), nil
}

func (b *AzureBlobBackend) sasURL(key string, ttl time.Duration) (string, error) {
	token, err := b.sasToken(key, ttl)
	if err != nil {
		return "", err
	}
	return b.blobURL(key) + "?" + token, nil
}

func (b *AzureBlobBackend) do(req *http.Request) (*http.Response, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrBackendUnavailable, redactURLError(err))
	}
	return resp, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// statusErr classifies an unexpected response. The body is not included
// since it may echo request details.
func statusErr(resp *http.Response) error {
	sentinel := interfaces.ErrBackendUnavailable
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		sentinel = interfaces.ErrUnauthorized
	}
	if code := resp.Header.Get("x-ms-error-code"); code != "" {
		return fmt.Errorf("%w: status %d (%s)", sentinel, resp.StatusCode, code)
	}
	return fmt.Errorf("%w: status %d", sentinel, resp.StatusCode)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// redactURLError strips the query string from transport errors so signed
// URLs never reach logs or error messages.
func redactURLError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	redacted := ue.URL
	if i := strings.IndexByte(redacted, '?'); i >= 0 {
		redacted = redacted[:i]
	}
	return &url.Error{Op: ue.Op, URL: redacted, Err: ue.Err}
}

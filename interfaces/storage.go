package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BackendType selects the storage driver serving a repository.
type BackendType string

const (
	// FilesystemBackend stores content under each repository's own storage path.
	FilesystemBackend BackendType = "filesystem"
	// S3Backend stores content in an S3 or S3-compatible bucket.
	S3Backend BackendType = "s3"
	// AzureBackend stores content in an Azure Blob Storage container.
	AzureBackend BackendType = "azure"
	// IPFSBackend stores content in the mutable file system of an IPFS node.
	IPFSBackend BackendType = "ipfs"
)

// ParseBackendType converts a configuration string to a BackendType.
// "fs" and "file" are accepted as aliases for the filesystem backend.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "filesystem", "fs", "file":
		return FilesystemBackend, nil
	case "s3":
		return S3Backend, nil
	case "azure":
		return AzureBackend, nil
	case "ipfs":
		return IPFSBackend, nil
	default:
		return "", fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, s)
	}
}

// IsShared reports whether storage keys are globally addressable for this
// backend type, so a single process-wide instance serves every repository.
func (t BackendType) IsShared() bool {
	return t != FilesystemBackend
}

// PathFormat controls how storage keys map to physical object paths.
type PathFormat string

const (
	// PathFormatNative uses storage keys as-is.
	PathFormatNative PathFormat = "native"
	// PathFormatLegacy uses the checksum-sharded layout of the previous system.
	PathFormatLegacy PathFormat = "legacy"
	// PathFormatMigration uses native keys and falls back to the legacy layout on a miss.
	PathFormatMigration PathFormat = "migration"
)

// ParsePathFormat converts a configuration string to a PathFormat.
// Unknown values resolve to PathFormatNative.
func ParsePathFormat(s string) PathFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "artifactory":
		return PathFormatLegacy
	case "migration":
		return PathFormatMigration
	default:
		return PathFormatNative
	}
}

// HasFallback reports whether a miss on the canonical key should be retried
// against the derived legacy key.
func (f PathFormat) HasFallback() bool {
	return f == PathFormatMigration
}

// PresignedURLSource identifies which mechanism issued a temporary URL.
type PresignedURLSource string

const (
	SourceAzure PresignedURLSource = "azure"
	SourceS3    PresignedURLSource = "s3"
)

// PresignedURL is a client-followable, time-bounded download URL.
type PresignedURL struct {
	URL       string
	ExpiresIn time.Duration
	Source    PresignedURLSource
}

var (
	// ErrContentNotFound is returned when a key is absent at its canonical path
	// and no compatible legacy path resolves. It is an expected outcome.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned for transport failures: network errors,
	// timeouts, and unexpected server responses. Callers may retry.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrUnauthorized is returned when the backend rejects the request signature
	// or bearer token. It is not retried automatically.
	ErrUnauthorized = errors.New("storage backend rejected credentials")

	// ErrInvalidConfig is returned when backend settings or credentials are
	// missing or malformed.
	ErrInvalidConfig = errors.New("invalid storage configuration")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageError attaches the failing operation and key to a backend error.
// Messages must never carry credentials or signed query strings.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// StorageBackend is the uniform contract over every object store.
type StorageBackend interface {
	// Put writes content at key, overwriting any existing object.
	Put(ctx context.Context, key string, content []byte) error

	// Get returns the object at key. It returns ErrContentNotFound when the
	// key is absent and no legacy fallback resolves.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present. A clean miss is (false, nil).
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// SupportsRedirect reports whether PresignedURL can issue URLs under the
	// current configuration.
	SupportsRedirect() bool

	// PresignedURL returns a signed, time-bounded URL for key, or nil when
	// redirects are unsupported.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (*PresignedURL, error)

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// BackendResolver returns the backend instance that owns objects written
// for a repository with the given storage path.
type BackendResolver interface {
	BackendFor(storagePath string) (StorageBackend, error)
}

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := parsed.Scheme
	switch scheme {
	case "file", "s3", "azure", "ipfs":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

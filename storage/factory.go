package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
)

// IPFSConfig configures an IPFSBackend.
type IPFSConfig struct {
	Host    string
	Port    string
	Root    string
	Timeout time.Duration
}

// RegistryConfig selects the process-wide backend kind and carries the
// settings for each driver.
type RegistryConfig struct {
	Type       interfaces.BackendType
	PathFormat interfaces.PathFormat

	// Location, when set, overrides Type and the per-driver settings: one
	// backend built from the URI serves every repository.
	Location *interfaces.StorageBackendLocation

	Azure AzureConfig
	S3    S3Config
	IPFS  IPFSConfig
}

// Registry maps repository storage paths to backend instances. Shared kinds
// (object stores) resolve every path to one lazily built instance; the
// filesystem kind builds one backend per storage path and caches it.
type Registry struct {
	cfg RegistryConfig
	log *slog.Logger

	mu     sync.Mutex
	shared interfaces.StorageBackend
	byPath map[string]interfaces.StorageBackend
}

// NewRegistry creates a registry for cfg. Backends are constructed on first use.
func NewRegistry(cfg RegistryConfig, log *slog.Logger) *Registry {
	if cfg.Location != nil {
		// Scheme names are valid backend types; the location was validated on parse.
		cfg.Type, _ = interfaces.ParseBackendType(cfg.Location.Scheme)
	}
	if cfg.Type == "" {
		cfg.Type = interfaces.FilesystemBackend
	}
	if cfg.PathFormat == "" {
		cfg.PathFormat = interfaces.PathFormatNative
	}
	cfg.Azure.PathFormat = cfg.PathFormat

	return &Registry{
		cfg:    cfg,
		log:    log,
		byPath: make(map[string]interfaces.StorageBackend),
	}
}

// Shared reports whether one backend instance serves every storage path.
func (r *Registry) Shared() bool {
	return r.cfg.Location != nil || r.cfg.Type.IsShared()
}

// BackendFor returns the backend that owns objects for storagePath.
// A construction failure is returned and not cached, so a later call retries.
func (r *Registry) BackendFor(storagePath string) (interfaces.StorageBackend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Shared() {
		if r.shared == nil {
			backend, err := r.createShared()
			if err != nil {
				return nil, err
			}
			r.log.Info("Initialized shared storage backend",
				slog.String("backend_name", backend.Name()),
				slog.String("location", backend.LocationURI()))
			r.shared = backend
		}
		return r.shared, nil
	}

	if backend, ok := r.byPath[storagePath]; ok {
		return backend, nil
	}

	fb, err := NewFileBackend(storagePath, r.log)
	if err != nil {
		return nil, err
	}
	backend := r.withFallback(fb)
	r.byPath[storagePath] = backend

	r.log.Debug("Registered filesystem backend", slog.String("storage_path", storagePath))
	return backend, nil
}

func (r *Registry) createShared() (interfaces.StorageBackend, error) {
	if r.cfg.Location != nil {
		return r.StorageBackendFor(*r.cfg.Location)
	}

	switch r.cfg.Type {
	case interfaces.AzureBackend:
		// The blob driver handles migration fallback itself.
		return NewAzureBlobBackend(r.cfg.Azure, r.log)
	case interfaces.S3Backend:
		b, err := NewS3Backend(r.cfg.S3, r.log)
		if err != nil {
			return nil, err
		}
		return r.withFallback(b), nil
	case interfaces.IPFSBackend:
		b, err := NewIPFSBackend(r.cfg.IPFS.Host, r.cfg.IPFS.Port, r.cfg.IPFS.Root, r.cfg.IPFS.Timeout, r.log)
		if err != nil {
			return nil, err
		}
		return r.withFallback(b), nil
	default:
		return nil, fmt.Errorf("%w: backend %q is not shared", interfaces.ErrInvalidConfig, r.cfg.Type)
	}
}

func (r *Registry) withFallback(b interfaces.StorageBackend) interfaces.StorageBackend {
	if r.cfg.PathFormat.HasFallback() {
		return NewLegacyFallbackBackend(b, r.log)
	}
	return b
}

// StorageBackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - azure:// - Azure Blob Storage container
//   - ipfs:// - IPFS node mutable file system
func (r *Registry) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch strings.ToLower(location.Scheme) {
	case "file":
		return r.createFileBackend(location)
	case "s3":
		return r.createS3Backend(location)
	case "azure":
		return r.createAzureBackend(location)
	case "ipfs":
		return r.createIPFSBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// createAzureBackend creates a blob backend.
// URI format: azure://[account:key@]account/container?endpoint=...&redirect=true&sas_expiry=1h&path_format=migration
// Without an embedded key the backend authenticates with bearer tokens.
func (r *Registry) createAzureBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	r.log.Debug("Creating Azure backend", slog.String("account", loc.Host))

	container := strings.Trim(loc.Path, "/")
	if loc.Host == "" || container == "" {
		return nil, fmt.Errorf("%w: expected azure://account/container", interfaces.ErrInvalidLocationURI)
	}

	cfg := AzureConfig{
		AccountName:       loc.Host,
		ContainerName:     container,
		Endpoint:          loc.GetParam("endpoint"),
		AllowHTTP:         loc.GetParamBool("allow_http"),
		RedirectDownloads: loc.GetParamBool("redirect"),
		PathFormat:        r.cfg.PathFormat,
		Credential:        r.cfg.Azure.Credential,
	}
	if s := loc.GetParam("path_format"); s != "" {
		cfg.PathFormat = interfaces.ParsePathFormat(s)
	}
	if key, ok := locationSecret(loc); ok {
		cfg.AccessKey = key
	}
	if s := loc.GetParam("sas_expiry"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid sas_expiry: %v", interfaces.ErrInvalidLocationURI, err)
		}
		cfg.SASExpiry = d
	}

	return NewAzureBlobBackend(cfg, r.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (r *Registry) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	r.log.Debug("Creating S3 backend", slog.String("bucket", loc.Host))

	cfg := S3Config{
		Bucket:            loc.Host,
		Prefix:            strings.TrimPrefix(loc.Path, "/"),
		Region:            loc.GetParam("region"),
		Endpoint:          loc.GetParam("endpoint"),
		ForcePathStyle:    loc.GetParamBool("path_style"),
		RedirectDownloads: loc.GetParamBool("redirect"),
	}
	if loc.Auth != "" {
		accessKey, _, _ := strings.Cut(loc.Auth, ":")
		cfg.AccessKey, _ = url.PathUnescape(accessKey)
		cfg.SecretKey, _ = locationSecret(loc)
	}

	b, err := NewS3Backend(cfg, r.log)
	if err != nil {
		return nil, err
	}
	return r.withFallback(b), nil
}

// createIPFSBackend creates an IPFS storage backend.
// URI format: ipfs://host:port/root?timeout=30s
func (r *Registry) createIPFSBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	r.log.Debug("Creating IPFS backend", slog.String("host", loc.Host))

	host, port, _ := strings.Cut(loc.Host, ":")

	var timeout time.Duration
	if s := loc.GetParam("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout: %v", interfaces.ErrInvalidLocationURI, err)
		}
		timeout = d
	}

	b, err := NewIPFSBackend(host, port, loc.Path, timeout, r.log)
	if err != nil {
		return nil, err
	}
	return r.withFallback(b), nil
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (r *Registry) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	b, err := NewFileBackend(path, r.log)
	if err != nil {
		return nil, err
	}
	return r.withFallback(b), nil
}

// locationSecret returns the password component of the URI userinfo.
func locationSecret(loc interfaces.StorageBackendLocation) (string, bool) {
	if loc.Auth == "" {
		return "", false
	}
	_, secret, ok := strings.Cut(loc.Auth, ":")
	if !ok || secret == "" {
		return "", false
	}
	// Userinfo is stored escaped; base64 keys carry '/', '+' and '='.
	unescaped, err := url.PathUnescape(secret)
	if err != nil {
		return "", false
	}
	return unescaped, true
}

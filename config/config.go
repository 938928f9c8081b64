// Package config loads the optional YAML configuration file shared by the
// artifact keeper commands. Command-line flags override file values.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/artifact-keeper/artifact-keeper/catalog"
	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/artifact-keeper/artifact-keeper/storage"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	Storage  StorageConfig          `yaml:"storage"`
	Database catalog.DatabaseConfig `yaml:"database"`
	Redis    RedisConfig            `yaml:"redis"`
	Vault    VaultConfig            `yaml:"vault"`
	GC       GCConfig               `yaml:"gc"`
	Edge     EdgeConfig             `yaml:"edge"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is one of filesystem, s3, azure, ipfs.
	Backend string `yaml:"backend"`

	// PathFormat is one of native, legacy, migration.
	PathFormat string `yaml:"path_format"`

	// URI configures the backend from a single location such as
	// s3://KEY:SECRET@bucket/prefix?region=eu-west-1. It replaces Backend
	// and the per-driver sections, and may itself be a vault:// reference.
	URI string `yaml:"uri"`

	Azure AzureConfig `yaml:"azure"`
	S3    S3Config    `yaml:"s3"`
	IPFS  IPFSConfig  `yaml:"ipfs"`
}

// AzureConfig configures the blob storage driver. AccessKey and
// ClientSecret may be vault:// references.
type AzureConfig struct {
	AccountName       string        `yaml:"account_name"`
	ContainerName     string        `yaml:"container_name"`
	AccessKey         string        `yaml:"access_key"`
	Endpoint          string        `yaml:"endpoint"`
	AllowHTTP         bool          `yaml:"allow_http"`
	RedirectDownloads bool          `yaml:"redirect_downloads"`
	SASExpiry         time.Duration `yaml:"sas_expiry"`
	TenantID          string        `yaml:"tenant_id"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
}

type S3Config struct {
	Bucket            string `yaml:"bucket"`
	Prefix            string `yaml:"prefix"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	AccessKey         string `yaml:"access_key"`
	SecretKey         string `yaml:"secret_key"`
	ForcePathStyle    bool   `yaml:"force_path_style"`
	RedirectDownloads bool   `yaml:"redirect_downloads"`
}

type IPFSConfig struct {
	Host    string        `yaml:"host"`
	Port    string        `yaml:"port"`
	Root    string        `yaml:"root"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig enables the distributed GC lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	LockKey  string `yaml:"lock_key"`
}

// VaultConfig enables vault:// secret references when Address is set.
type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

type GCConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	DryRun       bool          `yaml:"dry_run"`
}

type EdgeConfig struct {
	PrimaryURL        string        `yaml:"primary_url"`
	APIKey            string        `yaml:"api_key"`
	CacheDir          string        `yaml:"cache_dir"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	ChunkedEnabled    bool          `yaml:"chunked_enabled"`
	ChunkedThreshold  int64         `yaml:"chunked_threshold"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    string(interfaces.FilesystemBackend),
			PathFormat: string(interfaces.PathFormatNative),
		},
		Database: catalog.DatabaseConfig{
			MaxConns: 10,
		},
		GC: GCConfig{
			Enabled:      true,
			Interval:     6 * time.Hour,
			InitialDelay: 5 * time.Minute,
		},
		Edge: EdgeConfig{
			CacheDir:          "/var/lib/artifact-keeper/edge-cache",
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			DownloadTimeout:   30 * time.Minute,
			ChunkedThreshold:  100 << 20,
		},
	}
}

// LoadFile reads path over the defaults. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at backend construction.
func (c *Config) Validate() error {
	if c.GC.Interval < 0 || c.GC.InitialDelay < 0 {
		return errors.Join(interfaces.ErrInvalidConfig, errors.New("gc durations must not be negative"))
	}
	// A vault:// reference is only a location once resolved.
	if c.Storage.URI != "" && !storage.IsVaultRef(c.Storage.URI) {
		if _, err := interfaces.NewStorageBackendLocation(c.Storage.URI); err != nil {
			return err
		}
	}
	if c.Storage.URI != "" {
		return nil
	}

	backend, err := interfaces.ParseBackendType(c.Storage.Backend)
	if err != nil {
		return err
	}

	switch backend {
	case interfaces.AzureBackend:
		if c.Storage.Azure.AccountName == "" || c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("%w: azure storage requires account_name and container_name", interfaces.ErrInvalidConfig)
		}
	case interfaces.S3Backend:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 storage requires bucket", interfaces.ErrInvalidConfig)
		}
	}
	return nil
}

// Registry converts the storage section into a storage.RegistryConfig.
// Secret references must be resolved before calling it.
func (c *Config) Registry() (storage.RegistryConfig, error) {
	backend, err := interfaces.ParseBackendType(c.Storage.Backend)
	if err != nil {
		return storage.RegistryConfig{}, err
	}
	format := interfaces.ParsePathFormat(c.Storage.PathFormat)

	var location *interfaces.StorageBackendLocation
	if c.Storage.URI != "" {
		loc, err := interfaces.NewStorageBackendLocation(c.Storage.URI)
		if err != nil {
			return storage.RegistryConfig{}, err
		}
		location = &loc
	}

	az := c.Storage.Azure
	s3 := c.Storage.S3
	ipfs := c.Storage.IPFS
	return storage.RegistryConfig{
		Type:       backend,
		PathFormat: format,
		Location:   location,
		Azure: storage.AzureConfig{
			AccountName:       az.AccountName,
			ContainerName:     az.ContainerName,
			AccessKey:         az.AccessKey,
			Endpoint:          az.Endpoint,
			AllowHTTP:         az.AllowHTTP,
			RedirectDownloads: az.RedirectDownloads,
			SASExpiry:         az.SASExpiry,
			PathFormat:        format,
			Credential: storage.TokenCredentialConfig{
				TenantID:     az.TenantID,
				ClientID:     az.ClientID,
				ClientSecret: az.ClientSecret,
			},
		},
		S3: storage.S3Config{
			Bucket:            s3.Bucket,
			Prefix:            s3.Prefix,
			Region:            s3.Region,
			Endpoint:          s3.Endpoint,
			AccessKey:         s3.AccessKey,
			SecretKey:         s3.SecretKey,
			ForcePathStyle:    s3.ForcePathStyle,
			RedirectDownloads: s3.RedirectDownloads,
		},
		IPFS: storage.IPFSConfig{
			Host:    ipfs.Host,
			Port:    ipfs.Port,
			Root:    ipfs.Root,
			Timeout: ipfs.Timeout,
		},
	}, nil
}

// SecretResolver resolves secret references such as vault://mount/path#field.
type SecretResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// ResolveSecrets replaces every secret-bearing field with its resolved value.
func (c *Config) ResolveSecrets(ctx context.Context, r SecretResolver) error {
	fields := []*string{
		&c.Storage.URI,
		&c.Storage.Azure.AccessKey,
		&c.Storage.Azure.ClientSecret,
		&c.Storage.S3.SecretKey,
		&c.Database.URL,
		&c.Redis.Password,
		&c.Edge.APIKey,
	}
	for _, field := range fields {
		if *field == "" {
			continue
		}
		value, err := r.Resolve(ctx, *field)
		if err != nil {
			return err
		}
		*field = value
	}
	return nil
}

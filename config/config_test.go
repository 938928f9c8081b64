package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
storage:
  backend: azure
  path_format: migration
  azure:
    account_name: keeper
    container_name: artifacts
    access_key: vault://secret/storage/azure#access_key
    redirect_downloads: true
    sas_expiry: 15m
database:
  url: postgres://keeper@localhost/keeper
  max_conns: 4
redis:
  addr: localhost:6379
gc:
  interval: 1h
  dry_run: true
edge:
  primary_url: https://registry.example.com
  heartbeat_interval: 45s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "azure", cfg.Storage.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Storage.Azure.SASExpiry)
	assert.Equal(t, 4, cfg.Database.MaxConns)
	assert.Equal(t, time.Hour, cfg.GC.Interval)
	assert.True(t, cfg.GC.DryRun)
	// Unset values keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.GC.InitialDelay)
	assert.True(t, cfg.GC.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Edge.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Edge.HeartbeatTimeout)
	assert.Equal(t, int64(100<<20), cfg.Edge.ChunkedThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Edge.DownloadTimeout)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, interfaces.AzureBackend, reg.Type)
	assert.Equal(t, interfaces.PathFormatMigration, reg.PathFormat)
	assert.Equal(t, interfaces.PathFormatMigration, reg.Azure.PathFormat)
	assert.Equal(t, "keeper", reg.Azure.AccountName)
	assert.True(t, reg.Azure.RedirectDownloads)
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  backend: tape\n"},
		{"azure without container", "storage:\n  backend: azure\n  azure:\n    account_name: a\n"},
		{"s3 without bucket", "storage:\n  backend: s3\n"},
		{"negative interval", "gc:\n  interval: -1h\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
		})
	}

	_, err := LoadFile(writeConfig(t, "storage: [not, a, map]"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_StorageURI(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "storage:\n  uri: s3://AKID:SECRET@artifacts/prefix?region=eu-west-1\n  path_format: migration\n"))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	require.NotNil(t, reg.Location)
	assert.Equal(t, "s3", reg.Location.Scheme)
	assert.Equal(t, "artifacts", reg.Location.Host)
	assert.Equal(t, interfaces.PathFormatMigration, reg.PathFormat)

	// Resolved later, so not parsed as a location yet
	_, err = LoadFile(writeConfig(t, "storage:\n  uri: vault://secret/storage#uri\n"))
	require.NoError(t, err)

	_, err = LoadFile(writeConfig(t, "storage:\n  uri: tape://drive0\n"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

type prefixResolver struct{}

func (prefixResolver) Resolve(ctx context.Context, value string) (string, error) {
	if strings.HasPrefix(value, "vault://") {
		return "resolved:" + value[len("vault://"):], nil
	}
	return value, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.NoError(t, cfg.ResolveSecrets(context.Background(), prefixResolver{}))
	assert.Equal(t, "resolved:secret/storage/azure#access_key", cfg.Storage.Azure.AccessKey)
	assert.Equal(t, "postgres://keeper@localhost/keeper", cfg.Database.URL)
	assert.Empty(t, cfg.Storage.Azure.ClientSecret)
}

package storage

import (
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FilesystemRouting(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	r := NewRegistry(RegistryConfig{Type: interfaces.FilesystemBackend}, logger)

	pathA := filepath.Join(root, "repo-a")
	pathB := filepath.Join(root, "repo-b")

	a1, err := r.BackendFor(pathA)
	require.NoError(t, err)
	a2, err := r.BackendFor(pathA)
	require.NoError(t, err)
	b1, err := r.BackendFor(pathB)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b1)
	assert.Equal(t, "file://"+pathA, a1.LocationURI())
	assert.Equal(t, "file://"+pathB, b1.LocationURI())
}

func TestRegistry_SharedInstance(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(RegistryConfig{
		Type: interfaces.AzureBackend,
		Azure: AzureConfig{
			AccountName:   "acct",
			ContainerName: "artifacts",
			AccessKey:     testAccountKey,
		},
	}, logger)

	first, err := r.BackendFor("/var/lib/repos/a")
	require.NoError(t, err)
	second, err := r.BackendFor("/var/lib/repos/b")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "azure://acct/artifacts", first.LocationURI())
}

func TestRegistry_SharedConstructionFailureIsNotCached(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(RegistryConfig{
		Type:  interfaces.AzureBackend,
		Azure: AzureConfig{AccountName: "acct", ContainerName: "c", AccessKey: "%%%"},
	}, logger)

	_, err := r.BackendFor("x")
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
	_, err = r.BackendFor("x")
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

func TestRegistry_MigrationWrapsDrivers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fsRegistry := NewRegistry(RegistryConfig{
		Type:       interfaces.FilesystemBackend,
		PathFormat: interfaces.PathFormatMigration,
	}, logger)
	backend, err := fsRegistry.BackendFor(t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &LegacyFallbackBackend{}, backend)

	azRegistry := NewRegistry(RegistryConfig{
		Type:       interfaces.AzureBackend,
		PathFormat: interfaces.PathFormatMigration,
		Azure:      AzureConfig{AccountName: "acct", ContainerName: "c", AccessKey: testAccountKey},
	}, logger)
	backend, err = azRegistry.BackendFor("")
	require.NoError(t, err)
	assert.IsType(t, &AzureBlobBackend{}, backend)
}

func TestRegistry_Location(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	loc, err := interfaces.NewStorageBackendLocation("file://" + dir)
	require.NoError(t, err)
	fsRegistry := NewRegistry(RegistryConfig{Location: &loc, PathFormat: interfaces.PathFormatMigration}, logger)
	assert.True(t, fsRegistry.Shared())

	// Every storage path resolves to the one root from the URI
	a, err := fsRegistry.BackendFor("/var/lib/repos/a")
	require.NoError(t, err)
	b, err := fsRegistry.BackendFor("/var/lib/repos/b")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.IsType(t, &LegacyFallbackBackend{}, a)
	assert.Equal(t, "file://"+dir, a.LocationURI())

	loc, err = interfaces.NewStorageBackendLocation("azure://acct:" + url.QueryEscape(testAccountKey) + "@acct/artifacts")
	require.NoError(t, err)
	azRegistry := NewRegistry(RegistryConfig{Location: &loc, PathFormat: interfaces.PathFormatMigration}, logger)
	backend, err := azRegistry.BackendFor("")
	require.NoError(t, err)
	require.IsType(t, &AzureBlobBackend{}, backend)
	assert.Equal(t, "azure://acct/artifacts", backend.LocationURI())

	assert.False(t, NewRegistry(RegistryConfig{Type: interfaces.FilesystemBackend}, logger).Shared())
}

func TestRegistry_StorageBackendFor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(RegistryConfig{}, logger)
	dir := t.TempDir()

	tests := []struct {
		name         string
		uri          string
		expectedName string
		expectedErr  error
	}{
		{
			name:         "file",
			uri:          "file://" + dir,
			expectedName: "file-" + filepath.Base(dir),
		},
		{
			name:         "s3 with credentials",
			uri:          "s3://AKID:SECRET@bucket-1/prefix/?region=eu-west-1",
			expectedName: "s3-bucket-1",
		},
		{
			name:         "azure shared key",
			uri:          "azure://acct:" + url.QueryEscape(testAccountKey) + "@acct/container-1?redirect=true",
			expectedName: "azure-acct-container-1",
		},
		{
			name:         "ipfs",
			uri:          "ipfs://127.0.0.1:5001/artifacts?timeout=10s",
			expectedName: "ipfs-127.0.0.1-5001",
		},
		{
			name:        "azure missing container",
			uri:         "azure://acct",
			expectedErr: interfaces.ErrInvalidLocationURI,
		},
		{
			name:        "bad ipfs timeout",
			uri:         "ipfs://127.0.0.1:5001/?timeout=soon",
			expectedErr: interfaces.ErrInvalidLocationURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := interfaces.NewStorageBackendLocation(tt.uri)
			require.NoError(t, err)

			backend, err := r.StorageBackendFor(loc)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, backend.Name())
		})
	}

	_, err := interfaces.NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

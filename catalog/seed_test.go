package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChecksum = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

const testSeed = `
repositories:
  - key: maven-releases
    storage_path: /data/maven
    artifacts:
      - path: com/acme/lib/1.0/lib-1.0.jar
        checksum_sha256: ` + testChecksum + `
        size_bytes: 4
        deleted: true
      - path: com/acme/app/2.0/app-2.0.jar
        storage_key: blobs/app-2.0
        size_bytes: 7
        content_type: application/java-archive
`

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0600))

	c, err := LoadSeedFile(path)
	require.NoError(t, err)

	rows := c.Artifacts()
	require.Len(t, rows, 2)
	assert.Equal(t, testChecksum, rows[0].StorageKey)
	assert.Equal(t, testChecksum, rows[0].ChecksumSHA256)
	assert.True(t, rows[0].IsDeleted)
	assert.Equal(t, "blobs/app-2.0", rows[1].StorageKey)
	assert.Equal(t, "application/java-archive", rows[1].ContentType)

	groups, err := c.FindOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []interfaces.OrphanGroup{
		{StorageKey: testChecksum, StoragePath: "/data/maven", TotalBytes: 4, ArtifactCount: 1},
	}, groups)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, interfaces.StorageStats{Repositories: 1, LiveArtifacts: 1, LiveBytes: 7}, stats)
}

func TestMemoryCatalog_LoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		seed Seed
	}{
		{"repository without key", Seed{Repositories: []SeedRepository{{StoragePath: "/data"}}}},
		{"unknown backend", Seed{Repositories: []SeedRepository{{Key: "r", Backend: "tape"}}}},
		{"artifact without key or checksum", Seed{Repositories: []SeedRepository{{
			Key:       "r",
			Artifacts: []SeedArtifact{{Path: "a.jar", SizeBytes: 1}},
		}}}},
		{"uppercase checksum", Seed{Repositories: []SeedRepository{{
			Key:       "r",
			Artifacts: []SeedArtifact{{Path: "a.jar", ChecksumSHA256: "9F86D081884C7D659A2FEAA0C55AD015A3BF4F1B2B0B822CD15D6C15B0F00A08"}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, NewMemoryCatalog().Load(tt.seed), interfaces.ErrInvalidConfig)
		})
	}
}

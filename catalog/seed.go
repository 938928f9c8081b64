package catalog

import (
	"fmt"
	"os"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"gopkg.in/yaml.v3"
)

// Seed describes repositories and artifacts loaded into a MemoryCatalog in
// dev mode.
//
//	repositories:
//	  - key: maven-releases
//	    storage_path: /var/lib/artifact-keeper/maven-releases
//	    artifacts:
//	      - path: com/acme/lib/1.0/lib-1.0.jar
//	        checksum_sha256: 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
//	        size_bytes: 4
//	        deleted: true
type Seed struct {
	Repositories []SeedRepository `yaml:"repositories"`
}

type SeedRepository struct {
	Key         string         `yaml:"key"`
	StoragePath string         `yaml:"storage_path"`
	Backend     string         `yaml:"backend"`
	Artifacts   []SeedArtifact `yaml:"artifacts"`
}

// SeedArtifact is one catalog row. StorageKey defaults to the checksum,
// which is how content-addressed uploads are keyed.
type SeedArtifact struct {
	Path           string `yaml:"path"`
	StorageKey     string `yaml:"storage_key"`
	ChecksumSHA256 string `yaml:"checksum_sha256"`
	SizeBytes      int64  `yaml:"size_bytes"`
	ContentType    string `yaml:"content_type"`
	Deleted        bool   `yaml:"deleted"`
}

// LoadSeedFile reads a seed file and returns a catalog holding its rows.
func LoadSeedFile(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog seed: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog seed: %w", err)
	}

	c := NewMemoryCatalog()
	if err := c.Load(seed); err != nil {
		return nil, err
	}
	return c, nil
}

// Load adds every repository and artifact in seed.
func (c *MemoryCatalog) Load(seed Seed) error {
	for _, sr := range seed.Repositories {
		if sr.Key == "" {
			return fmt.Errorf("%w: seed repository without key", interfaces.ErrInvalidConfig)
		}
		backend, err := interfaces.ParseBackendType(sr.Backend)
		if err != nil {
			return err
		}
		repo := c.AddRepository(sr.Key, sr.StoragePath, backend)

		for _, sa := range sr.Artifacts {
			if sa.ChecksumSHA256 != "" && !isSHA256Hex(sa.ChecksumSHA256) {
				return fmt.Errorf("%w: artifact %s/%s has invalid checksum_sha256", interfaces.ErrInvalidConfig, sr.Key, sa.Path)
			}
			key := sa.StorageKey
			if key == "" {
				key = sa.ChecksumSHA256
			}
			if key == "" {
				return fmt.Errorf("%w: artifact %s/%s needs storage_key or checksum_sha256", interfaces.ErrInvalidConfig, sr.Key, sa.Path)
			}

			a, err := c.addArtifact(interfaces.Artifact{
				RepositoryID:   repo.ID,
				Path:           sa.Path,
				StorageKey:     key,
				SizeBytes:      sa.SizeBytes,
				ChecksumSHA256: sa.ChecksumSHA256,
				ContentType:    sa.ContentType,
			})
			if err != nil {
				return err
			}
			if sa.Deleted {
				if err := c.SoftDelete(a.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

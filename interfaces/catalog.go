package interfaces

import (
	"context"

	"github.com/google/uuid"
)

// Artifact is a logical catalog entry. Byte-identical artifacts share a
// StorageKey, which is the deduplication axis.
type Artifact struct {
	ID             uuid.UUID
	RepositoryID   uuid.UUID
	Path           string
	StorageKey     string
	SizeBytes      int64
	ChecksumSHA256 string
	ContentType    string
	IsDeleted      bool
}

// Repository is the unit of backend routing.
type Repository struct {
	ID          uuid.UUID
	Key         string
	StoragePath string
	BackendType BackendType
}

// OrphanGroup is a storage key referenced only by soft-deleted artifacts,
// grouped per repository storage path.
type OrphanGroup struct {
	StorageKey    string
	StoragePath   string
	TotalBytes    int64
	ArtifactCount int64
}

// StorageStats summarizes live catalog content.
type StorageStats struct {
	Repositories  int64 `json:"repositories"`
	LiveArtifacts int64 `json:"live_artifacts"`
	LiveBytes     int64 `json:"live_bytes"`
}

// Catalog is the artifact metadata boundary used by the garbage collector.
type Catalog interface {
	// FindOrphans returns every (storage key, storage path) group whose
	// artifacts are all soft-deleted and that no live artifact references.
	FindOrphans(ctx context.Context) ([]OrphanGroup, error)

	// DeleteDependents removes rows that reference soft-deleted artifacts
	// under storageKey without a cascading foreign key.
	DeleteDependents(ctx context.Context, storageKey string) error

	// HardDeleteArtifacts removes soft-deleted artifact rows for storageKey
	// and returns the number of rows removed.
	HardDeleteArtifacts(ctx context.Context, storageKey string) (int64, error)

	// Stats returns aggregate counts for live content.
	Stats(ctx context.Context) (StorageStats, error)
}

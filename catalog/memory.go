package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/google/uuid"
)

// MemoryCatalog is an in-process catalog for development and tests. It
// applies the same orphan rules as PostgresCatalog.
type MemoryCatalog struct {
	mu        sync.RWMutex
	repos     map[uuid.UUID]interfaces.Repository
	artifacts []*interfaces.Artifact
	approvals map[uuid.UUID]int
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		repos:     make(map[uuid.UUID]interfaces.Repository),
		approvals: make(map[uuid.UUID]int),
	}
}

// AddRepository registers a repository and returns it with a new id.
func (c *MemoryCatalog) AddRepository(key, storagePath string, backendType interfaces.BackendType) interfaces.Repository {
	c.mu.Lock()
	defer c.mu.Unlock()

	repo := interfaces.Repository{
		ID:          uuid.New(),
		Key:         key,
		StoragePath: storagePath,
		BackendType: backendType,
	}
	c.repos[repo.ID] = repo
	return repo
}

// AddArtifact records a live artifact in repoID.
func (c *MemoryCatalog) AddArtifact(repoID uuid.UUID, path, storageKey string, size int64) (interfaces.Artifact, error) {
	return c.addArtifact(interfaces.Artifact{
		RepositoryID: repoID,
		Path:         path,
		StorageKey:   storageKey,
		SizeBytes:    size,
	})
}

func (c *MemoryCatalog) addArtifact(a interfaces.Artifact) (interfaces.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.repos[a.RepositoryID]; !ok {
		return interfaces.Artifact{}, fmt.Errorf("repository %s not found", a.RepositoryID)
	}

	a.ID = uuid.New()
	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}
	c.artifacts = append(c.artifacts, &a)
	return a, nil
}

// SoftDelete marks an artifact deleted without removing its row.
func (c *MemoryCatalog) SoftDelete(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range c.artifacts {
		if a.ID == id {
			a.IsDeleted = true
			return nil
		}
	}
	return fmt.Errorf("artifact %s not found", id)
}

// AddApproval records a promotion approval referencing artifactID.
func (c *MemoryCatalog) AddApproval(artifactID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvals[artifactID]++
}

// Approvals returns the number of approvals referencing artifactID.
func (c *MemoryCatalog) Approvals(artifactID uuid.UUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approvals[artifactID]
}

// Artifacts returns a snapshot of every row, deleted or not.
func (c *MemoryCatalog) Artifacts() []interfaces.Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]interfaces.Artifact, 0, len(c.artifacts))
	for _, a := range c.artifacts {
		out = append(out, *a)
	}
	return out
}

func (c *MemoryCatalog) FindOrphans(ctx context.Context) ([]interfaces.OrphanGroup, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	live := make(map[string]bool)
	for _, a := range c.artifacts {
		if !a.IsDeleted {
			live[a.StorageKey] = true
		}
	}

	type groupKey struct{ key, path string }
	groups := make(map[groupKey]*interfaces.OrphanGroup)
	for _, a := range c.artifacts {
		if !a.IsDeleted || live[a.StorageKey] {
			continue
		}
		repo, ok := c.repos[a.RepositoryID]
		if !ok {
			continue
		}
		k := groupKey{a.StorageKey, repo.StoragePath}
		g, ok := groups[k]
		if !ok {
			g = &interfaces.OrphanGroup{StorageKey: a.StorageKey, StoragePath: repo.StoragePath}
			groups[k] = g
		}
		g.TotalBytes += a.SizeBytes
		g.ArtifactCount++
	}

	out := make([]interfaces.OrphanGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StorageKey != out[j].StorageKey {
			return out[i].StorageKey < out[j].StorageKey
		}
		return out[i].StoragePath < out[j].StoragePath
	})
	return out, nil
}

func (c *MemoryCatalog) DeleteDependents(ctx context.Context, storageKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range c.artifacts {
		if a.StorageKey == storageKey && a.IsDeleted {
			delete(c.approvals, a.ID)
		}
	}
	return nil
}

func (c *MemoryCatalog) HardDeleteArtifacts(ctx context.Context, storageKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Mirrors the missing cascade on promotion_approvals.artifact_id
	for _, a := range c.artifacts {
		if a.StorageKey == storageKey && a.IsDeleted && c.approvals[a.ID] > 0 {
			return 0, fmt.Errorf("artifact %s still referenced by promotion approvals", a.ID)
		}
	}

	var removed int64
	kept := c.artifacts[:0]
	for _, a := range c.artifacts {
		if a.StorageKey == storageKey && a.IsDeleted {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	c.artifacts = kept
	return removed, nil
}

func (c *MemoryCatalog) Stats(ctx context.Context) (interfaces.StorageStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := interfaces.StorageStats{Repositories: int64(len(c.repos))}
	for _, a := range c.artifacts {
		if !a.IsDeleted {
			stats.LiveArtifacts++
			stats.LiveBytes += a.SizeBytes
		}
	}
	return stats, nil
}

package catalog

import (
	"context"
	"fmt"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PostgresCatalog.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresCatalog implements interfaces.Catalog on the artifacts,
// repositories and promotion_approvals tables.
type PostgresCatalog struct {
	db DB
}

// NewPostgresCatalog creates a catalog backed by db.
func NewPostgresCatalog(db DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// findOrphansQuery groups by storage path as well as key so that filesystem
// repositories each get their own copy deleted.
const findOrphansQuery = `
	SELECT a.storage_key, r.storage_path,
	       SUM(a.size_bytes)::BIGINT AS total_bytes,
	       COUNT(*) AS artifact_count
	FROM artifacts a
	JOIN repositories r ON r.id = a.repository_id
	WHERE a.is_deleted = true
	  AND NOT EXISTS (
	    SELECT 1 FROM artifacts a2
	    WHERE a2.storage_key = a.storage_key
	      AND a2.is_deleted = false
	  )
	GROUP BY a.storage_key, r.storage_path
	ORDER BY a.storage_key, r.storage_path
`

// FindOrphans returns storage keys referenced only by soft-deleted artifacts.
func (c *PostgresCatalog) FindOrphans(ctx context.Context) ([]interfaces.OrphanGroup, error) {
	rows, err := c.db.Query(ctx, findOrphansQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphaned storage keys: %w", err)
	}
	defer rows.Close()

	var groups []interfaces.OrphanGroup
	for rows.Next() {
		var g interfaces.OrphanGroup
		if err := rows.Scan(&g.StorageKey, &g.StoragePath, &g.TotalBytes, &g.ArtifactCount); err != nil {
			return nil, fmt.Errorf("failed to scan orphan row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orphan rows: %w", err)
	}

	return groups, nil
}

// DeleteDependents removes promotion approvals for soft-deleted artifacts
// under storageKey. The foreign key has no ON DELETE CASCADE.
func (c *PostgresCatalog) DeleteDependents(ctx context.Context, storageKey string) error {
	query := `
		DELETE FROM promotion_approvals
		WHERE artifact_id IN (
			SELECT id FROM artifacts
			WHERE storage_key = $1 AND is_deleted = true
		)
	`

	if _, err := c.db.Exec(ctx, query, storageKey); err != nil {
		return fmt.Errorf("delete promotion_approvals: %w", err)
	}
	return nil
}

// HardDeleteArtifacts removes soft-deleted artifact rows for storageKey.
// Other child tables cascade.
func (c *PostgresCatalog) HardDeleteArtifacts(ctx context.Context, storageKey string) (int64, error) {
	query := `DELETE FROM artifacts WHERE storage_key = $1 AND is_deleted = true`

	tag, err := c.db.Exec(ctx, query, storageKey)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns repository and live artifact totals.
func (c *PostgresCatalog) Stats(ctx context.Context) (interfaces.StorageStats, error) {
	query := `
		SELECT (SELECT COUNT(*) FROM repositories),
		       COUNT(*),
		       COALESCE(SUM(size_bytes), 0)::BIGINT
		FROM artifacts
		WHERE is_deleted = false
	`

	var stats interfaces.StorageStats
	err := c.db.QueryRow(ctx, query).Scan(&stats.Repositories, &stats.LiveArtifacts, &stats.LiveBytes)
	if err != nil {
		return interfaces.StorageStats{}, fmt.Errorf("failed to query storage stats: %w", err)
	}
	return stats, nil
}

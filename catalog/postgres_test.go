package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
	CREATE TEMP TABLE repositories (
		id UUID PRIMARY KEY,
		key TEXT NOT NULL,
		storage_path TEXT NOT NULL
	);
	CREATE TEMP TABLE artifacts (
		id UUID PRIMARY KEY,
		repository_id UUID NOT NULL REFERENCES repositories(id),
		path TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT false
	);
	CREATE TEMP TABLE promotion_approvals (
		id UUID PRIMARY KEY,
		artifact_id UUID NOT NULL REFERENCES artifacts(id)
	);
`

// newTestPool connects to ARTIFACT_KEEPER_TEST_DATABASE_URL with a single
// connection so temporary tables stay visible.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("ARTIFACT_KEEPER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ARTIFACT_KEEPER_TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool, err := Connect(context.Background(), DatabaseConfig{URL: url, MaxConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), testSchema)
	require.NoError(t, err)
	return pool
}

func TestPostgresCatalog_OrphanLifecycle(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	c := NewPostgresCatalog(pool)

	repo := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO repositories (id, key, storage_path) VALUES ($1, 'maven', '/data/maven')`, repo)
	require.NoError(t, err)

	deleted, live, orphan := uuid.New(), uuid.New(), uuid.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO artifacts (id, repository_id, path, storage_key, size_bytes, is_deleted) VALUES
			($1, $4, 'a.jar', 'shared', 10, true),
			($2, $4, 'b.jar', 'shared', 10, false),
			($3, $4, 'c.jar', 'orphan', 30, true)
	`, deleted, live, orphan, repo)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO promotion_approvals (id, artifact_id) VALUES ($1, $2)`, uuid.New(), orphan)
	require.NoError(t, err)

	groups, err := c.FindOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.OrphanGroup{
		{StorageKey: "orphan", StoragePath: "/data/maven", TotalBytes: 30, ArtifactCount: 1},
	}, groups)

	// The approval row blocks the hard delete until dependents are gone
	_, err = c.HardDeleteArtifacts(ctx, "orphan")
	require.Error(t, err)

	require.NoError(t, c.DeleteDependents(ctx, "orphan"))
	removed, err := c.HardDeleteArtifacts(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StorageStats{Repositories: 1, LiveArtifacts: 1, LiveBytes: 10}, stats)
}

func TestPostgresCatalog_OrphanTotalsBeyondInt32(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	c := NewPostgresCatalog(pool)

	repo := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO repositories (id, key, storage_path) VALUES ($1, 'images', '/data/images')`, repo)
	require.NoError(t, err)

	// Two 3 GiB rows sharing one object
	const size = int64(3 << 30)
	_, err = pool.Exec(ctx, `
		INSERT INTO artifacts (id, repository_id, path, storage_key, size_bytes, is_deleted) VALUES
			($1, $3, 'disk-1.img', 'big', $4, true),
			($2, $3, 'disk-2.img', 'big', $4, true)
	`, uuid.New(), uuid.New(), repo, size)
	require.NoError(t, err)

	groups, err := c.FindOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.OrphanGroup{
		{StorageKey: "big", StoragePath: "/data/images", TotalBytes: 2 * size, ArtifactCount: 2},
	}, groups)
}

func TestFindOrphansQuery_ScansIntegers(t *testing.T) {
	// SUM over BIGINT is NUMERIC in PostgreSQL
	assert.Contains(t, findOrphansQuery, "SUM(a.size_bytes)::BIGINT")
}

package gc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/artifact-keeper/artifact-keeper/catalog"
	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/artifact-keeper/artifact-keeper/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingBackend rejects every delete.
type failingBackend struct {
	interfaces.StorageBackend
	err error
}

func (b *failingBackend) Delete(ctx context.Context, key string) error {
	return b.err
}

// overrideResolver serves failing backends for selected storage paths.
type overrideResolver struct {
	interfaces.BackendResolver
	overrides map[string]interfaces.StorageBackend
}

func (r *overrideResolver) BackendFor(storagePath string) (interfaces.StorageBackend, error) {
	if b, ok := r.overrides[storagePath]; ok {
		return b, nil
	}
	return r.BackendResolver.BackendFor(storagePath)
}

// dependentsFailingCatalog fails DeleteDependents for one key.
type dependentsFailingCatalog struct {
	*catalog.MemoryCatalog
	key string
}

func (c *dependentsFailingCatalog) DeleteDependents(ctx context.Context, storageKey string) error {
	if storageKey == c.key {
		return errors.New("deadlock detected")
	}
	return c.MemoryCatalog.DeleteDependents(ctx, storageKey)
}

type fixture struct {
	catalog  *catalog.MemoryCatalog
	registry *storage.Registry
	dirA     string
	dirB     string
	repoA    uuid.UUID
	repoB    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	f := &fixture{
		catalog:  catalog.NewMemoryCatalog(),
		registry: storage.NewRegistry(storage.RegistryConfig{Type: interfaces.FilesystemBackend}, testLogger()),
		dirA:     filepath.Join(root, "a"),
		dirB:     filepath.Join(root, "b"),
	}
	f.repoA = f.catalog.AddRepository("maven-a", f.dirA, interfaces.FilesystemBackend).ID
	f.repoB = f.catalog.AddRepository("maven-b", f.dirB, interfaces.FilesystemBackend).ID
	return f
}

// store writes content for key under dir and records an artifact row.
func (f *fixture) store(t *testing.T, repo uuid.UUID, dir, path, key string, content []byte, deleted bool) uuid.UUID {
	t.Helper()

	backend, err := f.registry.BackendFor(dir)
	require.NoError(t, err)
	require.NoError(t, backend.Put(context.Background(), key, content))

	a, err := f.catalog.AddArtifact(repo, path, key, int64(len(content)))
	require.NoError(t, err)
	if deleted {
		require.NoError(t, f.catalog.SoftDelete(a.ID))
	}
	return a.ID
}

func (f *fixture) exists(t *testing.T, dir, key string) bool {
	t.Helper()

	backend, err := f.registry.BackendFor(dir)
	require.NoError(t, err)
	ok, err := backend.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestCollector_DryRunDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	f.store(t, f.repoA, f.dirA, "old.jar", "k-old", []byte("0123456789"), true)
	f.store(t, f.repoA, f.dirA, "live.jar", "k-live", []byte("live"), false)

	c := NewCollector(f.catalog, f.registry, nil, testLogger())
	result, err := c.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, &Result{
		DryRun:             true,
		StorageKeysDeleted: 1,
		ArtifactsRemoved:   1,
		BytesFreed:         10,
		Errors:             []string{},
	}, result)
	assert.True(t, f.exists(t, f.dirA, "k-old"))
	assert.Len(t, f.catalog.Artifacts(), 2)
}

func TestCollector_ReclaimsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	deleted := f.store(t, f.repoA, f.dirA, "old.jar", "k-old", []byte("0123456789"), true)
	f.catalog.AddApproval(deleted)
	f.store(t, f.repoA, f.dirA, "live.jar", "k-live", []byte("live"), false)

	c := NewCollector(f.catalog, f.registry, nil, testLogger())
	ctx := context.Background()

	first, err := c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, &Result{
		StorageKeysDeleted: 1,
		ArtifactsRemoved:   1,
		BytesFreed:         10,
		Errors:             []string{},
	}, first)
	assert.False(t, f.exists(t, f.dirA, "k-old"))
	assert.True(t, f.exists(t, f.dirA, "k-live"))
	assert.Equal(t, 0, f.catalog.Approvals(deleted))

	second, err := c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, &Result{Errors: []string{}}, second)
}

func TestCollector_NeverDeletesSharedLiveKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Same content deduplicated under two paths, one still live
	a := f.store(t, f.repoA, f.dirA, "lib-1.0.jar", "k-shared", []byte("shared"), true)
	b := f.store(t, f.repoA, f.dirA, "lib-latest.jar", "k-shared", []byte("shared"), false)

	c := NewCollector(f.catalog, f.registry, nil, testLogger())
	result, err := c.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, &Result{Errors: []string{}}, result)
	assert.True(t, f.exists(t, f.dirA, "k-shared"))
	assert.Len(t, f.catalog.Artifacts(), 2)

	// Once the last reference is gone the object and both rows are reclaimed
	require.NoError(t, f.catalog.SoftDelete(b))
	result, err = c.Run(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, &Result{
		StorageKeysDeleted: 1,
		ArtifactsRemoved:   2,
		BytesFreed:         12,
		Errors:             []string{},
	}, result)
	assert.False(t, f.exists(t, f.dirA, "k-shared"))
	assert.Empty(t, f.catalog.Artifacts())
	assert.Equal(t, 0, f.catalog.Approvals(a))
}

func TestCollector_LiveReferenceInOtherRepositoryBlocksDelete(t *testing.T) {
	f := newFixture(t)
	f.store(t, f.repoA, f.dirA, "lib.jar", "k-shared", []byte("shared"), true)
	f.store(t, f.repoB, f.dirB, "lib.jar", "k-shared", []byte("shared"), false)

	c := NewCollector(f.catalog, f.registry, nil, testLogger())
	result, err := c.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.StorageKeysDeleted)
	assert.True(t, f.exists(t, f.dirA, "k-shared"))
	assert.True(t, f.exists(t, f.dirB, "k-shared"))
	assert.Len(t, f.catalog.Artifacts(), 2)
}

func TestCollector_DeleteFailureKeepsRows(t *testing.T) {
	f := newFixture(t)
	f.store(t, f.repoA, f.dirA, "a.jar", "k-a", []byte("aaaa"), true)
	f.store(t, f.repoB, f.dirB, "b.jar", "k-b", []byte("bb"), true)

	resolver := &overrideResolver{
		BackendResolver: f.registry,
		overrides: map[string]interfaces.StorageBackend{
			f.dirA: &failingBackend{err: interfaces.ErrBackendUnavailable},
		},
	}

	c := NewCollector(f.catalog, resolver, nil, testLogger())
	result, err := c.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.StorageKeysDeleted)
	assert.Equal(t, int64(2), result.BytesFreed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Failed to delete storage key k-a")

	rows := f.catalog.Artifacts()
	require.Len(t, rows, 1)
	assert.Equal(t, "k-a", rows[0].StorageKey)
	assert.False(t, f.exists(t, f.dirB, "k-b"))
}

func TestCollector_DependentsFailureSkipsHardDelete(t *testing.T) {
	f := newFixture(t)
	blocked := f.store(t, f.repoA, f.dirA, "a.jar", "k-a", []byte("aaaa"), true)
	f.catalog.AddApproval(blocked)

	cat := &dependentsFailingCatalog{MemoryCatalog: f.catalog, key: "k-a"}
	c := NewCollector(cat, f.registry, nil, testLogger())
	result, err := c.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.StorageKeysDeleted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "k-a")
	// The object is gone but the row stays, so the next run retries cleanly
	assert.False(t, f.exists(t, f.dirA, "k-a"))
	assert.Len(t, f.catalog.Artifacts(), 1)
}

func TestCollector_HardDeleteFailureRecorded(t *testing.T) {
	f := newFixture(t)
	blocked := f.store(t, f.repoA, f.dirA, "a.jar", "k-a", []byte("aaaa"), true)
	f.catalog.AddApproval(blocked)

	// DeleteDependents succeeds but leaves the approval; HardDelete then fails
	cat := &noopDependentsCatalog{MemoryCatalog: f.catalog}
	c := NewCollector(cat, f.registry, nil, testLogger())
	result, err := c.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.StorageKeysDeleted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Failed to hard-delete artifacts for key k-a")
}

type noopDependentsCatalog struct {
	*catalog.MemoryCatalog
}

func (c *noopDependentsCatalog) DeleteDependents(ctx context.Context, storageKey string) error {
	return nil
}

type brokenCatalog struct {
	*catalog.MemoryCatalog
}

func (brokenCatalog) FindOrphans(ctx context.Context) ([]interfaces.OrphanGroup, error) {
	return nil, errors.New("connection closed")
}

func TestCollector_OrphanQueryFailure(t *testing.T) {
	f := newFixture(t)
	c := NewCollector(brokenCatalog{f.catalog}, f.registry, nil, testLogger())

	result, err := c.Run(context.Background(), false)
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestCollector_CancelledRunStopsBetweenGroups(t *testing.T) {
	f := newFixture(t)
	f.store(t, f.repoA, f.dirA, "a.jar", "k-a", []byte("a"), true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCollector(f.catalog, f.registry, nil, testLogger())
	result, err := c.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.StorageKeysDeleted)
	require.Len(t, result.Errors, 1)
	assert.True(t, f.exists(t, f.dirA, "k-a"))
}

func TestResult_JSON(t *testing.T) {
	data, err := json.Marshal(&Result{Errors: []string{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dry_run":false,"storage_keys_deleted":0,"artifacts_removed":0,"bytes_freed":0,"errors":[]}`, string(data))
}

func TestScheduler_TickRespectsLock(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(SchedulerConfig{Interval: time.Hour}, runner, heldLocker{}, nil, nil, testLogger())

	s.Tick(context.Background())
	assert.Equal(t, 0, runner.calls)

	s = NewScheduler(SchedulerConfig{Interval: time.Hour, DryRun: true}, runner, nil, nil, nil, testLogger())
	s.Tick(context.Background())
	assert.Equal(t, 1, runner.calls)
	assert.True(t, runner.lastDryRun)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(SchedulerConfig{Interval: time.Hour, InitialDelay: time.Hour}, runner, nil, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 0, runner.calls)
}

type countingRunner struct {
	calls      int
	lastDryRun bool
}

func (r *countingRunner) Run(ctx context.Context, dryRun bool) (*Result, error) {
	r.calls++
	r.lastDryRun = dryRun
	return &Result{DryRun: dryRun, Errors: []string{}}, nil
}

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context, ttl time.Duration) (Unlock, error) {
	return nil, ErrLockHeld
}

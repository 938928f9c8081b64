/*
Package gc reclaims storage objects that no live artifact references.

Artifacts are soft-deleted by setting is_deleted on their catalog row. Because
content is deduplicated by storage key, an object can only be removed once
every row sharing its key is deleted. Collector.Run asks the catalog for those
orphaned keys, grouped by repository storage path, and for each group:

 1. resolves the owning backend through the storage registry
 2. deletes the physical object
 3. deletes dependent promotion approval rows
 4. hard-deletes the soft-deleted artifact rows

A failure at any step is recorded in Result.Errors and the remaining steps for
that group are skipped, leaving the rows for the next run. The physical object
is always removed before its rows, so the catalog never loses track of an
object that still exists.

Scheduler runs the collector periodically. With several replicas, a
RedisLocker ensures only one of them collects per tick.
*/
package gc

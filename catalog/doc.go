// Package catalog implements the artifact metadata boundary used by the
// storage garbage collector.
//
// PostgresCatalog runs against the registry database through a pgx pool.
// MemoryCatalog applies the same orphan rules in memory for development
// mode and tests.
package catalog

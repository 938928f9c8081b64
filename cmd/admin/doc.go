// Package main (cmd/admin) implements the storage admin client.
//
// Commands:
//
//	stats     - Print live repository and artifact totals from a running service
//	gc        - Trigger garbage collection on a running service
//	gc-local  - Run garbage collection once against the catalog and storage directly
//
// Both gc commands accept --dry-run and print the collection result as JSON.
// Per-group failures appear in the "errors" array and do not fail the command.
//
// Example:
//
//	admin gc --server-addr=https://registry.internal --dry-run
//	admin gc-local --storage-backend=s3 --s3-bucket=artifacts --database-url=postgres://...
package main

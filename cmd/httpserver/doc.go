// Package main (cmd/httpserver) runs the storage service of the primary
// registry.
//
// It builds the storage backend registry from flags, environment variables
// and an optional YAML file, connects to the artifact catalog in PostgreSQL,
// and serves the storage admin API:
//
//   - POST /api/v1/admin/storage-gc triggers garbage collection on demand
//   - GET /api/v1/admin/storage-stats reports live catalog totals
//   - GET /api/v1/storage/redirect/{key} redirects to presigned URLs
//
// Unless --gc-disabled is set, garbage collection also runs on a schedule.
// With --redis-addr, replicas share a lock so only one collects per period.
// Secrets given as vault://mount/path#field are read from Vault at startup.
// --storage-uri (for example s3://bucket?region=eu-west-1) overrides
// --storage-backend with one shared backend for every repository.
// --dev-seed loads an in-memory catalog from YAML instead of PostgreSQL.
//
// Example:
//
//	AZURE_STORAGE_ACCOUNT=keeper AZURE_STORAGE_CONTAINER=artifacts \
//	AZURE_STORAGE_ACCESS_KEY=vault://secret/storage/azure#access_key \
//	httpserver --storage-backend azure --database-url postgres://... \
//	  --vault-addr https://vault:8200 --redis-addr redis:6379
package main

/*
Package httpserver implements the HTTP surface of the artifact keeper storage
services.

The Server owns the listener, health endpoints, request logging and the
optional pprof and metrics servers. Feature handlers plug in through
RouteRegistrar.

# Storage admin (primary)

  - POST /api/v1/admin/storage-gc - run garbage collection, {"dry_run": bool}
  - GET /api/v1/admin/storage-stats - live repository and artifact totals
  - GET /api/v1/storage/redirect/{key} - 307 to a presigned URL when the
    backend supports redirect downloads, 404 otherwise

# Edge node

  - GET /api/v1/edge/status - connectivity state and node id
  - GET /api/v1/artifacts/{id}/download - cached or fetched by id
  - GET /api/v1/repositories/{repo}/artifacts/{path}/download - cached or
    fetched by path

# Health

  - GET /livez - always 200 while the process runs
  - GET /readyz - 200 unless drained
  - GET /drain, GET /undrain - toggle readiness for load balancer rotation

All error responses are JSON objects of the form {"error": "..."}.
*/
package httpserver

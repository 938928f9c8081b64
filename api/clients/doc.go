/*
Package clients provides the HTTP client edge nodes use to talk to the primary
registry.

PrimaryClient implements api.PrimaryAPI:

  - Heartbeat - POST /api/v1/edge-nodes/heartbeat with the cache counters
  - DownloadArtifact - GET /api/v1/artifacts/{id}/download
  - DownloadByPath - GET /api/v1/repositories/{repo}/artifacts/{path}/download

Every request carries the node's API key as a bearer token and is bounded by a
fixed timeout. Non-2xx answers are returned as *StatusError so callers can
tell an unhealthy primary apart from an unreachable one.

# Example Usage

	client := clients.NewPrimaryClient("https://registry.example.com", apiKey, 10*time.Second)
	resp, err := client.Heartbeat(ctx, &api.HeartbeatRequest{CacheEntries: 12})

MockPrimaryAPI is a testify mock of the same interface.
*/
package clients

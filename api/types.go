package api

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// HeartbeatPath is the primary endpoint edge nodes report to.
const HeartbeatPath = "/api/v1/edge-nodes/heartbeat"

// HeartbeatRequest is the payload an edge node sends to the primary on every tick.
type HeartbeatRequest struct {
	// CacheSizeBytes is the total size of the local artifact cache
	CacheSizeBytes int64 `json:"cache_size_bytes"`

	// CacheEntries is the number of artifacts held in the local cache
	CacheEntries int64 `json:"cache_entries"`

	// IsOffline reports the node's view of primary connectivity before this heartbeat
	IsOffline bool `json:"is_offline"`
}

// HeartbeatResponse is returned by the primary. NodeID is set once the
// primary has registered the node for chunked transfers.
type HeartbeatResponse struct {
	NodeID *uuid.UUID `json:"node_id,omitempty"`
}

// GCRequest is the body of the storage garbage collection admin endpoint.
type GCRequest struct {
	DryRun bool `json:"dry_run"`
}

// ErrorResponse is the JSON body of any non-2xx admin response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PrimaryAPI is the subset of the primary registry API used by edge nodes.
type PrimaryAPI interface {
	// Heartbeat reports cache state and connectivity to the primary.
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)

	// DownloadArtifact streams an artifact by id. The caller closes the reader.
	DownloadArtifact(ctx context.Context, artifactID uuid.UUID) (io.ReadCloser, error)

	// DownloadByPath streams an artifact addressed by repository key and path.
	DownloadByPath(ctx context.Context, repoKey, artifactPath string) (io.ReadCloser, error)
}

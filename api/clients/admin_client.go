package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/artifact-keeper/artifact-keeper/gc"
	"github.com/artifact-keeper/artifact-keeper/interfaces"
)

// AdminClient calls the storage admin endpoints of the primary.
type AdminClient struct {
	primary *PrimaryClient
}

// NewAdminClient creates an admin client. GC runs may take minutes, so the
// timeout should be generous.
func NewAdminClient(baseURL, apiKey string, timeout time.Duration) *AdminClient {
	return &AdminClient{primary: NewPrimaryClient(baseURL, apiKey, timeout)}
}

// RunStorageGC triggers one garbage collection pass on the primary.
func (c *AdminClient) RunStorageGC(ctx context.Context, dryRun bool) (*gc.Result, error) {
	body, err := json.Marshal(api.GCRequest{DryRun: dryRun})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gc request: %w", err)
	}

	resp, err := c.primary.do(ctx, http.MethodPost, "/api/v1/admin/storage-gc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result gc.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not parse gc result: %w", err)
	}
	return &result, nil
}

// StorageStats fetches live catalog totals.
func (c *AdminClient) StorageStats(ctx context.Context) (*interfaces.StorageStats, error) {
	resp, err := c.primary.do(ctx, http.MethodGet, "/api/v1/admin/storage-stats", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats interfaces.StorageStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("could not parse storage stats: %w", err)
	}
	return &stats, nil
}

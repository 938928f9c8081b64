package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryClient_Heartbeat(t *testing.T) {
	nodeID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/edge-nodes/heartbeat", r.URL.Path)
		assert.Equal(t, "Bearer edge-key", r.Header.Get("Authorization"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, map[string]any{
			"cache_size_bytes": float64(2048),
			"cache_entries":    float64(3),
			"is_offline":       true,
		}, payload)

		_, _ = w.Write([]byte(`{"node_id":"` + nodeID.String() + `"}`))
	}))
	defer server.Close()

	client := NewPrimaryClient(server.URL+"/", "edge-key", 0)
	resp, err := client.Heartbeat(context.Background(), &api.HeartbeatRequest{
		CacheSizeBytes: 2048,
		CacheEntries:   3,
		IsOffline:      true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.NodeID)
	assert.Equal(t, nodeID, *resp.NodeID)
}

func TestPrimaryClient_HeartbeatEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := NewPrimaryClient(server.URL, "k", 0).Heartbeat(context.Background(), &api.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Nil(t, resp.NodeID)
}

func TestPrimaryClient_HeartbeatUnparsableAck(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"plain text", "OK"},
		{"invalid node id", `{"node_id":"not-a-uuid"}`},
		{"truncated json", `{"node_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			resp, err := NewPrimaryClient(server.URL, "k", 0).Heartbeat(context.Background(), &api.HeartbeatRequest{})
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Nil(t, resp.NodeID)
		})
	}
}

func TestPrimaryClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	_, err := NewPrimaryClient(server.URL, "k", 0).Heartbeat(context.Background(), &api.HeartbeatRequest{})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "maintenance", statusErr.Body)
}

func TestPrimaryClient_Downloads(t *testing.T) {
	artifactID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.EscapedPath() {
		case "/api/v1/artifacts/" + artifactID.String() + "/download":
			_, _ = w.Write([]byte("by-id"))
		case "/api/v1/repositories/maven-central/artifacts/org/acme/lib%20x/1.0/lib.jar/download":
			_, _ = w.Write([]byte("by-path"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewPrimaryClient(server.URL, "k", 0)
	ctx := context.Background()

	rc, err := client.DownloadArtifact(ctx, artifactID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "by-id", string(data))

	rc, err = client.DownloadByPath(ctx, "maven-central", "/org/acme/lib x/1.0/lib.jar")
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "by-path", string(data))

	_, err = client.DownloadByPath(ctx, "npm", "missing.tgz")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

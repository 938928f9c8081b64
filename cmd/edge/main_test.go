package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artifact-keeper/artifact-keeper/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrimaryClients_DownloadOutlivesHeartbeatTimeout(t *testing.T) {
	chunk := strings.Repeat("x", 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			_, _ = io.WriteString(w, chunk)
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer server.Close()

	cfg := config.Default().Edge
	cfg.PrimaryURL = server.URL
	cfg.HeartbeatTimeout = 100 * time.Millisecond
	cfg.DownloadTimeout = 10 * time.Second

	heartbeat, downloads := newPrimaryClients(cfg)
	ctx := context.Background()

	body, err := downloads.DownloadArtifact(ctx, uuid.New())
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	_ = body.Close()
	require.NoError(t, err)
	assert.Len(t, data, 5*len(chunk))

	body, err = heartbeat.DownloadArtifact(ctx, uuid.New())
	if err == nil {
		_, err = io.ReadAll(body)
		_ = body.Close()
	}
	assert.Error(t, err)
}

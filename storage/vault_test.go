package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVaultRef(t *testing.T) {
	tests := []struct {
		ref       string
		mount     string
		path      string
		field     string
		expectErr bool
	}{
		{ref: "vault://secret/storage/azure#access_key", mount: "secret", path: "storage/azure", field: "access_key"},
		{ref: "vault://kv/app#client_secret", mount: "kv", path: "app", field: "client_secret"},
		{ref: "vault://secret/storage/azure", expectErr: true},
		{ref: "vault://secret#field", expectErr: true},
		{ref: "vault:///path#field", expectErr: true},
		{ref: "plain-value", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			mount, path, field, err := ParseVaultRef(tt.ref)
			if tt.expectErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mount, mount)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.field, field)
		})
	}
}

func TestVaultSecretResolver_Resolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))

		if r.URL.Path != "/v1/secret/data/storage/azure" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"data": {"access_key": "c2VjcmV0LWtleQ=="},
				"metadata": {
					"created_time": "2026-01-01T00:00:00Z",
					"deletion_time": "",
					"destroyed": false,
					"version": 3
				}
			}
		}`))
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver, err := NewVaultSecretResolver(server.URL, "test-token", logger)
	require.NoError(t, err)
	ctx := context.Background()

	value, err := resolver.Resolve(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", value)

	value, err = resolver.Resolve(ctx, "vault://secret/storage/azure#access_key")
	require.NoError(t, err)
	assert.Equal(t, "c2VjcmV0LWtleQ==", value)

	_, err = resolver.Resolve(ctx, "vault://secret/storage/azure#missing")
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)

	_, err = resolver.Resolve(ctx, "vault://secret/storage/s3#access_key")
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}

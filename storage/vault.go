package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/hashicorp/vault/api"
)

// vaultRefPrefix marks a configuration value that is a Vault KV v2 reference
// of the form vault://{mount}/{path}#{field}.
const vaultRefPrefix = "vault://"

// VaultSecretResolver resolves storage credentials held in HashiCorp Vault.
// Values without the vault:// prefix pass through unchanged.
type VaultSecretResolver struct {
	client *api.Client
	log    *slog.Logger
}

// NewVaultSecretResolver creates a resolver for the Vault server at address
// authenticated with token. An empty address or token falls back to the
// VAULT_ADDR and VAULT_TOKEN environment variables.
func NewVaultSecretResolver(address, token string, log *slog.Logger) (*VaultSecretResolver, error) {
	config := api.DefaultConfig()
	if address != "" {
		config.Address = address
	}
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultSecretResolver{
		client: client,
		log:    log,
	}, nil
}

// IsVaultRef reports whether value is a vault:// reference.
func IsVaultRef(value string) bool {
	return strings.HasPrefix(value, vaultRefPrefix)
}

// ParseVaultRef splits a vault://{mount}/{path}#{field} reference.
func ParseVaultRef(ref string) (mount, secretPath, field string, err error) {
	rest, ok := strings.CutPrefix(ref, vaultRefPrefix)
	if !ok {
		return "", "", "", fmt.Errorf("%w: not a vault reference", interfaces.ErrInvalidConfig)
	}

	rest, field, ok = strings.Cut(rest, "#")
	if !ok || field == "" {
		return "", "", "", fmt.Errorf("%w: vault reference missing #field", interfaces.ErrInvalidConfig)
	}

	mount, secretPath, ok = strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || mount == "" || secretPath == "" {
		return "", "", "", fmt.Errorf("%w: vault reference must be vault://mount/path#field", interfaces.ErrInvalidConfig)
	}

	return mount, secretPath, field, nil
}

// Resolve returns value unchanged unless it is a vault:// reference, in
// which case the referenced field is read from the KV v2 engine. The secret
// value is never logged.
func (r *VaultSecretResolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsVaultRef(value) {
		return value, nil
	}

	mount, secretPath, field, err := ParseVaultRef(value)
	if err != nil {
		return "", err
	}

	secret, err := r.client.KVv2(mount).Get(ctx, secretPath)
	if err != nil {
		r.log.Error("Failed to read from Vault",
			slog.String("mount", mount),
			slog.String("path", secretPath),
			"err", err)
		return "", fmt.Errorf("%w: failed to read vault secret %s/%s: %v", interfaces.ErrInvalidConfig, mount, secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: vault secret %s/%s not found", interfaces.ErrInvalidConfig, mount, secretPath)
	}

	raw, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not present in vault secret %s/%s", interfaces.ErrInvalidConfig, field, mount, secretPath)
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q in vault secret %s/%s is not a string", interfaces.ErrInvalidConfig, field, mount, secretPath)
	}

	r.log.Debug("Resolved secret from Vault",
		slog.String("mount", mount),
		slog.String("path", secretPath),
		slog.String("field", field))

	return str, nil
}

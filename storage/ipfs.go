package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSBackend implements a storage backend on the mutable file system (MFS)
// of an IPFS node. Keys map to paths under a root directory, which keeps
// objects addressable by key and removable by Delete.
type IPFSBackend struct {
	shell       *shell.Shell
	apiAddr     string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend using the node API at
// host:port and storing objects under root in MFS.
func NewIPFSBackend(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs host not set", interfaces.ErrInvalidConfig)
	}
	if port == "" {
		port = "5001"
	}
	if timeout <= 0 {
		timeout = azureClientTimeout
	}
	root = "/" + strings.Trim(root, "/")

	apiAddr := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShell(apiAddr)
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:       sh,
		apiAddr:     apiAddr,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiAddr, root),
	}, nil
}

// Put writes content to the MFS path for key, creating parent directories.
func (b *IPFSBackend) Put(ctx context.Context, key string, content []byte) error {
	mfsPath := b.mfsPath(key)

	err := b.shell.FilesWrite(ctx, mfsPath, bytes.NewReader(content),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true),
	)
	if err != nil {
		return &interfaces.StorageError{Op: "put", Key: key, Err: classifyIPFSError(err)}
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(content)))

	return nil
}

// Get reads the MFS file for key.
func (b *IPFSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	mfsPath := b.mfsPath(key)

	reader, err := b.shell.FilesRead(ctx, mfsPath)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key, Err: classifyIPFSError(err)}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "get", Key: key,
			Err: fmt.Errorf("%w: failed to read data from IPFS: %w", interfaces.ErrBackendUnavailable, err)}
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", mfsPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Exists stats the MFS path for key.
func (b *IPFSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.shell.FilesStat(ctx, b.mfsPath(key))
	if err == nil {
		return true, nil
	}
	if isIPFSNotFound(err) {
		return false, nil
	}
	return false, &interfaces.StorageError{Op: "exists", Key: key, Err: classifyIPFSError(err)}
}

// Delete removes the MFS file for key. A missing file is not an error.
func (b *IPFSBackend) Delete(ctx context.Context, key string) error {
	err := b.shell.FilesRm(ctx, b.mfsPath(key), true)
	if err != nil && !isIPFSNotFound(err) {
		return &interfaces.StorageError{Op: "delete", Key: key, Err: classifyIPFSError(err)}
	}
	return nil
}

// SupportsRedirect is always false; MFS paths are not publicly routable.
func (b *IPFSBackend) SupportsRedirect() bool {
	return false
}

// PresignedURL always returns nil.
func (b *IPFSBackend) PresignedURL(ctx context.Context, key string, ttl time.Duration) (*interfaces.PresignedURL, error) {
	return nil, nil
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", strings.ReplaceAll(b.apiAddr, ":", "-"))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(key string) string {
	return path.Join(b.root, path.Clean("/"+key))
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file does not exist") || strings.Contains(msg, "no link named")
}

func classifyIPFSError(err error) error {
	if isIPFSNotFound(err) {
		return interfaces.ErrContentNotFound
	}
	return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
}

// Package interfaces defines the contracts shared by the storage drivers,
// the artifact catalog and the garbage collector, separating interface
// definitions from implementations.
//
// # Storage Interfaces
//
// StorageBackend: uniform put/get/exists/delete contract over every object
// store, plus temporary-access URL issuance for backends that support it.
//
// BackendResolver: returns the backend instance that owns the objects of a
// repository. Cloud backends share one instance; filesystem backends are
// rooted at each repository's storage path.
//
// # Catalog Interfaces
//
// Catalog: the artifact metadata boundary. It exposes the orphan query,
// dependent-row deletion and hard deletion of soft-deleted rows.
//
// # Error Types
//
// Standard errors returned by storage operations:
//
//   - ErrContentNotFound: key absent after exhausting the legacy fallback
//   - ErrBackendUnavailable: transport failure, retryable by the caller
//   - ErrUnauthorized: signature or bearer token rejected
//   - ErrInvalidConfig: missing or malformed backend settings
//   - ErrInvalidLocationURI: storage location URI is malformed
//
// Backend failures are wrapped in *StorageError, which carries the operation
// and key. Match categories with errors.Is.
package interfaces

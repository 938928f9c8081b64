// Package main (cmd/edge) runs an edge node of the artifact registry.
//
// The node heartbeats to the primary, tracks whether the primary is
// reachable, and serves artifact downloads from a local cache directory,
// fetching misses from the primary. The node id assigned by the primary is
// persisted next to the cache so restarts keep the same identity.
//
// Example:
//
//	edge --primary-url=https://registry.internal --api-key=vault://secret/edge#api_key \
//	  --vault-addr=https://vault:8200 --cache-dir=/var/cache/artifact-keeper
package main

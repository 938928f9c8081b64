/*
Package edge implements the sync side of an edge node that caches artifacts
pulled from a primary registry.

# Connectivity

Heartbeater posts the cache counters to the primary on a fixed period. The
node starts Online. A heartbeat that fails because the primary cannot be
reached (refused, unreachable, timed out, DNS) moves it to Offline once; the
next successful heartbeat moves it back. Failures where the primary answered,
such as a rejected API key, leave the state alone.

The first node id returned by the primary is adopted and persisted next to
the cache. It is never replaced afterwards.

# Transfers

SelectStrategy decides between one direct download and the chunked
multi-peer protocol. Chunked transfer needs the feature enabled, an artifact
at or above the size threshold, and an adopted node id. The protocol itself
is the ChunkedTransfer collaborator.

Fetcher checks the local Cache first and stores whatever it pulls.
*/
package edge

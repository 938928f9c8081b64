/*
Package api holds the wire types and shared configuration of the artifact
keeper storage services.

# Contents

- HTTPServerConfig: listen addresses, timeouts and drain behaviour shared by
  the admin HTTP server and its metrics endpoint
- HeartbeatRequest / HeartbeatResponse: the edge node heartbeat exchanged with
  the primary registry
- GCRequest / ErrorResponse: bodies of the storage admin endpoints
- PrimaryAPI: the calls an edge node makes against the primary

The clients subpackage implements PrimaryAPI over HTTP.
*/
package api

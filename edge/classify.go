package edge

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/artifact-keeper/artifact-keeper/api/clients"
)

// connectivityMarkers are matched against the lowercased error text when
// no typed error identifies the failure.
var connectivityMarkers = []string{
	"connection refused",
	"network unreachable",
	"network is unreachable",
	"host unreachable",
	"no route to host",
	"timed out",
	"dns",
	"no such host",
}

// IsConnectivityError reports whether err means the primary could not be
// reached. An HTTP error status means it was reached and is never a
// connectivity failure.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectivityMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

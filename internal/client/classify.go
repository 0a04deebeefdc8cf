package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

// failureClass is the transport's view of one failed attempt.
type failureClass struct {
	code       string
	message    string
	retryable  bool
	cancelled  bool
	retryAfter time.Duration
}

// classifyError sorts a network-layer error into the taxonomy.
// Timeouts, connection refusals, and DNS failures are retryable;
// caller cancellation is neither retryable nor a breaker failure.
func classifyError(err error) failureClass {
	if errors.Is(err, context.Canceled) {
		return failureClass{
			code:      envelope.CodeCancelled,
			message:   "request cancelled by caller",
			cancelled: true,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return failureClass{
			code:      envelope.CodeNetworkDNS,
			message:   fmt.Sprintf("dns lookup failed: %v", dnsErr),
			retryable: true,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureClass{
			code:      envelope.CodeNetworkTimeout,
			message:   fmt.Sprintf("request timed out: %v", err),
			retryable: true,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureClass{
			code:      envelope.CodeNetworkTimeout,
			message:   fmt.Sprintf("request timed out: %v", err),
			retryable: true,
		}
	}

	// Remaining dial/transport errors (connection refused, reset,
	// unreachable) are transient from the client's point of view.
	return failureClass{
		code:      envelope.CodeNetworkConn,
		message:   fmt.Sprintf("connection failed: %v", err),
		retryable: true,
	}
}

// classifyStatus sorts a non-2xx HTTP status into the taxonomy:
// 429 and 5xx are retryable, every other 4xx is terminal.
func classifyStatus(status int, body string) failureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return failureClass{
			code:      envelope.CodeNetworkRateLimit,
			message:   fmt.Sprintf("server rate limited the request (HTTP %d)", status),
			retryable: true,
		}
	case status >= 500:
		return failureClass{
			code:      envelope.CodeNetworkServer,
			message:   fmt.Sprintf("server error (HTTP %d): %s", status, truncate(body, 200)),
			retryable: true,
		}
	default:
		return failureClass{
			code:      envelope.CodeNetworkClient,
			message:   fmt.Sprintf("request rejected (HTTP %d): %s", status, truncate(body, 200)),
			retryable: false,
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

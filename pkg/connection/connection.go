// Package connection abstracts a single HTTP exchange. A Connection performs exactly
// one attempt; retry policy lives in the request package.
package connection

import (
	"context"
	"net/http"
	"time"
)

// Kind tags the result of one exchange.
type Kind int

const (
	// KindCompleted means a response arrived; Status and Body are set.
	KindCompleted Kind = iota
	// KindNetworkFailure means the exchange failed before a response arrived.
	KindNetworkFailure
	// KindTimeout means the per-attempt timeout expired.
	KindTimeout
	// KindAborted means Abort was called or the caller's context ended.
	KindAborted
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindNetworkFailure:
		return "network_failure"
	case KindTimeout:
		return "timeout"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of Send. Err is set for network failures.
type Outcome struct {
	Kind   Kind
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// Request is what a Connection sends.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration // per attempt; 0 disables
}

// Connection is a single-use exchange.
type Connection interface {
	// Send performs the exchange and blocks until an Outcome is available.
	// A Connection accepts one Send; it is never reused across attempts.
	Send(ctx context.Context, req *Request) Outcome
	// Abort is idempotent and may race with Send; the pending or next Send
	// resolves as KindAborted.
	Abort()
	// Status returns the response status, 0 before a response arrived.
	Status() int
	// ResponseHeader returns a response header value, "" if absent.
	ResponseHeader(name string) string
	// Body returns the raw response body.
	Body() []byte
}

// Factory produces a fresh Connection per attempt.
type Factory func() Connection

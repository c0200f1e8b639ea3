// Package request executes one logical operation as a series of attempts with
// retry, backoff and cancellation.
package request

import (
	"net/http"
	"slices"
	"time"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/storage"
)

// DecodeFunc turns a successful response into the operation's result. It is
// called at most once per execution and must not block.
type DecodeFunc[T any] func(conn connection.Connection, body []byte) (T, error)

// ErrorHandler reinterprets a generically classified failure. Returning nil keeps it.
type ErrorHandler func(conn connection.Connection, err *storage.Error) *storage.Error

// Spec describes one logical network operation. The executor never mutates it.
type Spec[T any] struct {
	URL       string
	Method    string
	Header    map[string]string
	Body      []byte
	URLParams map[string]string
	Decode    DecodeFunc[T]

	// SuccessCodes defaults to {200}.
	SuccessCodes []int
	// AdditionalRetryCodes are retried on top of 5xx and transport failures.
	AdditionalRetryCodes []int

	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetryTime bounds the whole execution including backoff; 0 disables.
	MaxRetryTime time.Duration

	ErrorHandler ErrorHandler
}

// NewSpec creates a spec that treats 200 as success.
func NewSpec[T any](method, url string, decode DecodeFunc[T]) *Spec[T] {
	return &Spec[T]{
		URL:          url,
		Method:       method,
		Header:       map[string]string{},
		URLParams:    map[string]string{},
		Decode:       decode,
		SuccessCodes: []int{http.StatusOK},
	}
}

func (s *Spec[T]) isSuccess(status int) bool {
	if len(s.SuccessCodes) == 0 {
		return status == http.StatusOK
	}
	return slices.Contains(s.SuccessCodes, status)
}

func (s *Spec[T]) isRetryStatus(status int) bool {
	return (status >= 500 && status < 600) || slices.Contains(s.AdditionalRetryCodes, status)
}

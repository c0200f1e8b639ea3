package request

import (
	"bytes"
	"net/http"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/storage"
)

type verdict int

const (
	verdictSuccess verdict = iota
	verdictRetry
	verdictTerminal
	verdictAborted
)

// classify checks success codes before retry codes.
func classify[T any](spec *Spec[T], out connection.Outcome) verdict {
	switch out.Kind {
	case connection.KindAborted:
		return verdictAborted
	case connection.KindNetworkFailure, connection.KindTimeout:
		return verdictRetry
	}
	switch {
	case spec.isSuccess(out.Status):
		return verdictSuccess
	case spec.isRetryStatus(out.Status):
		return verdictRetry
	default:
		return verdictTerminal
	}
}

const appCheckInvalidMarker = "App Check token is invalid"

// StatusError is the generic classification of a non-success status.
func StatusError(status int, body []byte) *storage.Error {
	err := &storage.Error{Status: status, ServerResponse: string(body)}
	switch status {
	case http.StatusUnauthorized:
		if bytes.Contains(body, []byte(appCheckInvalidMarker)) {
			err.Code = storage.CodeUnauthorizedApp
			err.Message = "this app does not have permission to access storage"
		} else {
			err.Code = storage.CodeUnauthenticated
			err.Message = "user is not authenticated, please authenticate and try again"
		}
	case http.StatusPaymentRequired:
		err.Code = storage.CodeQuotaExceeded
		err.Message = "quota exceeded, check your plan or try again later"
	case http.StatusForbidden:
		err.Code = storage.CodeUnauthorized
		err.Message = "user does not have permission to access this object"
	default:
		err.Code = storage.CodeUnknown
		err.Message = "an unknown error occurred, check the server response"
	}
	return err
}

// retryCause describes why a retryable attempt failed.
func retryCause(out connection.Outcome) error {
	switch out.Kind {
	case connection.KindTimeout:
		return storage.WrapError(storage.CodeUnknown, "attempt timed out", out.Err)
	case connection.KindNetworkFailure:
		return storage.WrapError(storage.CodeUnknown, "network failure", out.Err)
	default:
		return StatusError(out.Status, out.Body)
	}
}

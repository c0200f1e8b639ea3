// Package requests builds the request.Spec for every storage operation.
package requests

import (
	"time"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/storage"
)

const (
	DefaultHost                  = "firebasestorage.googleapis.com"
	DefaultProtocol              = "https"
	DefaultMaxOperationRetryTime = 2 * time.Minute
	DefaultMaxUploadRetryTime    = 10 * time.Minute

	// MaxListResults is the largest page the service returns.
	MaxListResults = 1000

	jsonContentType = "application/json; charset=utf-8"
)

// Config carries the endpoint and the time budgets applied to built specs.
type Config struct {
	Host     string
	Protocol string
	// MaxOperationRetryTime bounds metadata, list, delete and download operations.
	MaxOperationRetryTime time.Duration
	// MaxUploadRetryTime bounds upload operations.
	MaxUploadRetryTime time.Duration
	// AttemptTimeout bounds every single attempt; 0 disables.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the production endpoint with default budgets.
func DefaultConfig() Config {
	return Config{
		Host:                  DefaultHost,
		Protocol:              DefaultProtocol,
		MaxOperationRetryTime: DefaultMaxOperationRetryTime,
		MaxUploadRetryTime:    DefaultMaxUploadRetryTime,
	}
}

// URL resolves a server path such as Location.FullServerURL against the endpoint.
func (c Config) URL(path string) string {
	return c.Protocol + "://" + c.Host + "/v0" + path
}

// objectErrorHandler maps a missing object to object-not-found.
func objectErrorHandler(loc storage.Location) request.ErrorHandler {
	return func(conn connection.Connection, _ *storage.Error) *storage.Error {
		if conn.Status() == 404 {
			return storage.ObjectNotFound(loc.Path)
		}
		return nil
	}
}

// bucketErrorHandler maps a missing collection to bucket-not-found.
func bucketErrorHandler(loc storage.Location) request.ErrorHandler {
	return func(conn connection.Connection, _ *storage.Error) *storage.Error {
		if conn.Status() == 404 {
			return storage.BucketNotFound(loc.Bucket)
		}
		return nil
	}
}

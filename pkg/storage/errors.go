package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a storage failure. Callers branch on the code, never on the message.
type Code string

const (
	CodeUnknown              Code = "unknown"
	CodeObjectNotFound       Code = "object-not-found"
	CodeBucketNotFound       Code = "bucket-not-found"
	CodeProjectNotFound      Code = "project-not-found"
	CodeQuotaExceeded        Code = "quota-exceeded"
	CodeUnauthenticated      Code = "unauthenticated"
	CodeUnauthorized         Code = "unauthorized"
	CodeUnauthorizedApp      Code = "unauthorized-app"
	CodeRetryLimitExceeded   Code = "retry-limit-exceeded"
	CodeInvalidChecksum      Code = "invalid-checksum"
	CodeCanceled             Code = "canceled"
	CodeInvalidURL           Code = "invalid-url"
	CodeInvalidDefaultBucket Code = "invalid-default-bucket"
	CodeNoDefaultBucket      Code = "no-default-bucket"
	CodeCannotSliceBlob      Code = "cannot-slice-blob"
	CodeServerFileWrongSize  Code = "server-file-wrong-size"
	CodeNoDownloadURL        Code = "no-download-url"
	CodeInvalidArgument      Code = "invalid-argument"
	CodeInvalidRootOperation Code = "invalid-root-operation"
	CodeInvalidFormat        Code = "invalid-format"
	CodeInternalError        Code = "internal-error"
)

// Sentinels for errors.Is. Matching is by Code only.
var (
	ErrUnknown              = &Error{Code: CodeUnknown}
	ErrObjectNotFound       = &Error{Code: CodeObjectNotFound}
	ErrBucketNotFound       = &Error{Code: CodeBucketNotFound}
	ErrQuotaExceeded        = &Error{Code: CodeQuotaExceeded}
	ErrUnauthenticated      = &Error{Code: CodeUnauthenticated}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized}
	ErrRetryLimitExceeded   = &Error{Code: CodeRetryLimitExceeded}
	ErrCanceled             = &Error{Code: CodeCanceled}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument}
	ErrInvalidRootOperation = &Error{Code: CodeInvalidRootOperation}
	ErrNoDownloadURL        = &Error{Code: CodeNoDownloadURL}
	ErrInternal             = &Error{Code: CodeInternalError}
)

// Error is the single failure type surfaced to callers of this module.
type Error struct {
	Code Code
	// Status is the HTTP status of the attempt that produced the error, 0 if none.
	Status int
	// Message is a human readable description.
	Message string
	// ServerResponse holds the raw response body when the service returned one.
	ServerResponse string
	// Err is the underlying cause, if any.
	Err error
}

// Error returns the string representation of the error
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("storage/")
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new storage error
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a storage error carrying cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// StatusOf returns the HTTP status recorded on err, or 0.
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsCanceled checks if an error is a caller-initiated cancellation
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsRetryLimitExceeded checks if an error reports an exhausted retry budget
func IsRetryLimitExceeded(err error) bool {
	return errors.Is(err, ErrRetryLimitExceeded)
}

// IsNotFound checks if an error is an object or bucket not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrBucketNotFound)
}

// IsUnauthorized checks if an error is an authentication or authorization failure
func IsUnauthorized(err error) bool {
	switch CodeOf(err) {
	case CodeUnauthenticated, CodeUnauthorized, CodeUnauthorizedApp:
		return true
	}
	return false
}

// Canceled builds the error settled by a canceled operation.
func Canceled() *Error {
	return NewError(CodeCanceled, "user canceled the operation")
}

// RetryLimitExceeded builds the error raised when the retry budget is spent.
// The last attempt's cause and status are preserved.
func RetryLimitExceeded(attempts int, status int, cause error) *Error {
	return &Error{
		Code:    CodeRetryLimitExceeded,
		Status:  status,
		Message: fmt.Sprintf("max retry attempts exceeded after %d attempts", attempts),
		Err:     cause,
	}
}

// ObjectNotFound builds the error for a missing object at path.
func ObjectNotFound(path string) *Error {
	return NewError(CodeObjectNotFound, fmt.Sprintf("object '%s' does not exist", path))
}

// BucketNotFound builds the error for a missing bucket.
func BucketNotFound(bucket string) *Error {
	return NewError(CodeBucketNotFound, fmt.Sprintf("bucket '%s' does not exist", bucket))
}

// InvalidArgument builds a programmer-misuse error.
func InvalidArgument(message string) *Error {
	return NewError(CodeInvalidArgument, message)
}

// InvalidRootOperation builds the error for object operations aimed at the bucket root.
func InvalidRootOperation(op string) *Error {
	return NewError(CodeInvalidRootOperation,
		fmt.Sprintf("the operation '%s' cannot be performed on a root reference", op))
}

// NoDefaultBucket builds the error for a client configured without a bucket.
func NoDefaultBucket() *Error {
	return NewError(CodeNoDefaultBucket, "no default bucket configured")
}

// ServerFileWrongSize builds the error for a finalized upload whose size disagrees.
func ServerFileWrongSize(sent, received int64) *Error {
	return NewError(CodeServerFileWrongSize,
		fmt.Sprintf("server recorded %d bytes but %d were sent", received, sent))
}

package requests

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/storage"
)

// Resumable upload protocol headers.
const (
	HeaderUploadProtocol      = "X-Goog-Upload-Protocol"
	HeaderUploadCommand       = "X-Goog-Upload-Command"
	HeaderUploadContentLength = "X-Goog-Upload-Header-Content-Length"
	HeaderUploadContentType   = "X-Goog-Upload-Header-Content-Type"
	HeaderUploadURL           = "X-Goog-Upload-URL"
	HeaderUploadStatus        = "X-Goog-Upload-Status"
	HeaderUploadSizeReceived  = "X-Goog-Upload-Size-Received"
	HeaderUploadOffset        = "X-Goog-Upload-Offset"

	UploadStatusActive = "active"
	UploadStatusFinal  = "final"

	CommandStart          = "start"
	CommandQuery          = "query"
	CommandUpload         = "upload"
	CommandUploadFinalize = "upload, finalize"
)

// resumableRetryCodes are retried by session requests on top of the generic set.
var resumableRetryCodes = []int{http.StatusRequestTimeout, http.StatusTooManyRequests}

func newResumableSpec[T any](cfg Config, method, url string, loc storage.Location, decode request.DecodeFunc[T]) *request.Spec[T] {
	spec := newUploadSpec(cfg, method, url, loc, decode)
	spec.AdditionalRetryCodes = resumableRetryCodes
	return spec
}

// ResumableUploadStatus is the service's view of a resumable session.
type ResumableUploadStatus struct {
	// Current is the number of bytes the service has persisted.
	Current int64
	// Total is the declared size, -1 when unknown.
	Total int64
	// Finalized is set once the object has been created.
	Finalized bool
	// Metadata is the created object, present once finalized.
	Metadata *storage.Metadata
}

func newUploadSpec[T any](cfg Config, method, url string, loc storage.Location, decode request.DecodeFunc[T]) *request.Spec[T] {
	spec := request.NewSpec(method, url, decode)
	spec.Timeout = cfg.AttemptTimeout
	spec.MaxRetryTime = cfg.MaxUploadRetryTime
	spec.ErrorHandler = objectErrorHandler(loc)
	return spec
}

// MultipartUpload creates the object at loc from data in a single request.
func MultipartUpload(cfg Config, loc storage.Location, data []byte, contentType string, m *storage.SettableMetadata) (*request.Spec[*storage.Metadata], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("uploadBytes")
	}
	if m != nil && m.ContentType != nil {
		contentType = *m.ContentType
	}
	resource, err := storage.MarshalUploadResource(loc, contentType, m)
	if err != nil {
		return nil, storage.WrapError(storage.CodeInvalidArgument, "failed to encode metadata", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, part := range []struct {
		contentType string
		data        []byte
	}{
		{jsonContentType, resource},
		{contentType, data},
	} {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", part.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, storage.WrapError(storage.CodeInternalError, "failed to build multipart body", err)
		}
		if _, err := pw.Write(part.data); err != nil {
			return nil, storage.WrapError(storage.CodeInternalError, "failed to build multipart body", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, storage.WrapError(storage.CodeInternalError, "failed to build multipart body", err)
	}

	spec := newUploadSpec(cfg, http.MethodPost, cfg.URL(loc.BucketOnlyServerURL()), loc, decodeMetadata)
	spec.URLParams["name"] = loc.Path
	spec.Header[HeaderUploadProtocol] = "multipart"
	spec.Header["Content-Type"] = "multipart/related; boundary=" + w.Boundary()
	spec.Body = buf.Bytes()
	return spec, nil
}

// CreateResumableUpload opens a resumable session for loc and yields its URL.
// size is -1 when the total is not known up front.
func CreateResumableUpload(cfg Config, loc storage.Location, size int64, contentType string, m *storage.SettableMetadata) (*request.Spec[string], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("uploadResumable")
	}
	if m != nil && m.ContentType != nil {
		contentType = *m.ContentType
	}
	resource, err := storage.MarshalUploadResource(loc, contentType, m)
	if err != nil {
		return nil, storage.WrapError(storage.CodeInvalidArgument, "failed to encode metadata", err)
	}

	spec := newResumableSpec(cfg, http.MethodPost, cfg.URL(loc.BucketOnlyServerURL()), loc, func(conn connection.Connection, _ []byte) (string, error) {
		if _, err := uploadStatus(conn, UploadStatusActive); err != nil {
			return "", err
		}
		sessionURL := conn.ResponseHeader(HeaderUploadURL)
		if sessionURL == "" {
			return "", storage.NewError(storage.CodeUnknown, "resumable upload response has no session URL")
		}
		return sessionURL, nil
	})
	spec.URLParams["name"] = loc.Path
	spec.Header[HeaderUploadProtocol] = "resumable"
	spec.Header[HeaderUploadCommand] = CommandStart
	spec.Header[HeaderUploadContentType] = contentType
	spec.Header["Content-Type"] = jsonContentType
	if size >= 0 {
		spec.Header[HeaderUploadContentLength] = strconv.FormatInt(size, 10)
	}
	spec.Body = resource
	return spec, nil
}

// GetResumableUploadStatus asks the service how much of the session it has persisted.
func GetResumableUploadStatus(cfg Config, loc storage.Location, sessionURL string, size int64) (*request.Spec[ResumableUploadStatus], error) {
	if sessionURL == "" {
		return nil, storage.InvalidArgument("session URL is required")
	}
	spec := newResumableSpec(cfg, http.MethodPost, sessionURL, loc, func(conn connection.Connection, body []byte) (ResumableUploadStatus, error) {
		status, err := uploadStatus(conn, UploadStatusActive, UploadStatusFinal)
		if err != nil {
			return ResumableUploadStatus{}, err
		}
		received, err := sizeReceived(conn)
		if err != nil {
			return ResumableUploadStatus{}, err
		}
		if size >= 0 && received > size {
			return ResumableUploadStatus{}, storage.ServerFileWrongSize(size, received)
		}
		out := ResumableUploadStatus{Current: received, Total: size, Finalized: status == UploadStatusFinal}
		if out.Finalized {
			if out.Total < 0 {
				out.Total = received
			}
			if len(body) > 0 {
				if out.Metadata, err = storage.ParseMetadata(body); err != nil {
					return ResumableUploadStatus{}, err
				}
			}
		}
		return out, nil
	})
	spec.Header[HeaderUploadCommand] = CommandQuery
	return spec, nil
}

// ContinueResumableUpload sends chunk at offset status.Current. With final set the
// session is finalized and the created object is returned in the new status.
func ContinueResumableUpload(cfg Config, loc storage.Location, sessionURL string, status ResumableUploadStatus, chunk []byte, final bool) (*request.Spec[ResumableUploadStatus], error) {
	switch {
	case sessionURL == "":
		return nil, storage.InvalidArgument("session URL is required")
	case status.Finalized:
		return nil, storage.NewError(storage.CodeInternalError, "cannot upload to a finalized session")
	case len(chunk) == 0 && !final:
		return nil, storage.InvalidArgument("an intermediate chunk must not be empty")
	case status.Total >= 0 && status.Current+int64(len(chunk)) > status.Total:
		return nil, storage.InvalidArgument(fmt.Sprintf("chunk of %d bytes at offset %d overruns declared size %d", len(chunk), status.Current, status.Total))
	}

	sent := status.Current + int64(len(chunk))
	command := CommandUpload
	if final {
		command = CommandUploadFinalize
	}

	spec := newResumableSpec(cfg, http.MethodPost, sessionURL, loc, func(conn connection.Connection, body []byte) (ResumableUploadStatus, error) {
		uploadState, err := uploadStatus(conn, UploadStatusActive, UploadStatusFinal)
		if err != nil {
			return ResumableUploadStatus{}, err
		}
		out := ResumableUploadStatus{Current: sent, Total: status.Total}
		if uploadState != UploadStatusFinal {
			return out, nil
		}
		if received, err := sizeReceived(conn); err == nil && received != sent {
			return ResumableUploadStatus{}, storage.ServerFileWrongSize(sent, received)
		}
		out.Finalized = true
		if out.Total < 0 {
			out.Total = sent
		}
		if out.Metadata, err = storage.ParseMetadata(body); err != nil {
			return ResumableUploadStatus{}, err
		}
		return out, nil
	})
	spec.Header[HeaderUploadCommand] = command
	spec.Header[HeaderUploadOffset] = strconv.FormatInt(status.Current, 10)
	spec.Body = chunk
	return spec, nil
}

func uploadStatus(conn connection.Connection, allowed ...string) (string, error) {
	status := conn.ResponseHeader(HeaderUploadStatus)
	for _, a := range allowed {
		if status == a {
			return status, nil
		}
	}
	return "", storage.NewError(storage.CodeUnknown, fmt.Sprintf("unexpected upload status %q", status))
}

func sizeReceived(conn connection.Connection) (int64, error) {
	v := conn.ResponseHeader(HeaderUploadSizeReceived)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, storage.NewError(storage.CodeUnknown, fmt.Sprintf("invalid %s header %q", HeaderUploadSizeReceived, v))
	}
	return n, nil
}

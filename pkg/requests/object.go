package requests

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/storage"
)

func decodeMetadata(_ connection.Connection, body []byte) (*storage.Metadata, error) {
	return storage.ParseMetadata(body)
}

func newObjectSpec[T any](cfg Config, method string, loc storage.Location, decode request.DecodeFunc[T]) *request.Spec[T] {
	spec := request.NewSpec(method, cfg.URL(loc.FullServerURL()), decode)
	spec.Timeout = cfg.AttemptTimeout
	spec.MaxRetryTime = cfg.MaxOperationRetryTime
	spec.ErrorHandler = objectErrorHandler(loc)
	return spec
}

// GetMetadata fetches the object resource at loc.
func GetMetadata(cfg Config, loc storage.Location) (*request.Spec[*storage.Metadata], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("getMetadata")
	}
	return newObjectSpec(cfg, http.MethodGet, loc, decodeMetadata), nil
}

// UpdateMetadata patches the writable fields of the object at loc that are set in m.
func UpdateMetadata(cfg Config, loc storage.Location, m storage.SettableMetadata) (*request.Spec[*storage.Metadata], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("updateMetadata")
	}
	body, err := storage.MarshalSettable(&m)
	if err != nil {
		return nil, storage.WrapError(storage.CodeInvalidArgument, "failed to encode metadata", err)
	}
	spec := newObjectSpec(cfg, http.MethodPatch, loc, decodeMetadata)
	spec.Header["Content-Type"] = jsonContentType
	spec.Body = body
	return spec, nil
}

// DeleteObject removes the object at loc.
func DeleteObject(cfg Config, loc storage.Location) (*request.Spec[struct{}], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("deleteObject")
	}
	spec := newObjectSpec(cfg, http.MethodDelete, loc, func(connection.Connection, []byte) (struct{}, error) {
		return struct{}{}, nil
	})
	spec.SuccessCodes = []int{http.StatusOK, http.StatusNoContent}
	return spec, nil
}

// GetDownloadURL fetches the object resource and turns its first download token
// into a public media URL.
func GetDownloadURL(cfg Config, loc storage.Location) (*request.Spec[string], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("getDownloadURL")
	}
	return newObjectSpec(cfg, http.MethodGet, loc, func(_ connection.Connection, body []byte) (string, error) {
		md, err := storage.ParseMetadata(body)
		if err != nil {
			return "", err
		}
		if len(md.DownloadTokens) == 0 {
			return "", storage.NewError(storage.CodeNoDownloadURL, fmt.Sprintf("object %q has no download token", loc.Path))
		}
		q := url.Values{}
		q.Set("alt", "media")
		q.Set("token", md.DownloadTokens[0])
		u := cfg.URL(storage.NewLocation(md.Bucket, md.FullPath).FullServerURL())
		return u + "?" + q.Encode(), nil
	}), nil
}

// GetBytes downloads the object content. A positive maxDownloadSize requests at most
// that many leading bytes.
func GetBytes(cfg Config, loc storage.Location, maxDownloadSize int64) (*request.Spec[[]byte], error) {
	if loc.IsRoot() {
		return nil, storage.InvalidRootOperation("getBytes")
	}
	if maxDownloadSize < 0 {
		return nil, storage.InvalidArgument(fmt.Sprintf("max download size must not be negative, got %d", maxDownloadSize))
	}
	spec := newObjectSpec(cfg, http.MethodGet, loc, func(_ connection.Connection, body []byte) ([]byte, error) {
		if maxDownloadSize > 0 && int64(len(body)) > maxDownloadSize {
			body = body[:maxDownloadSize]
		}
		return body, nil
	})
	spec.URLParams["alt"] = "media"
	spec.SuccessCodes = []int{http.StatusOK, http.StatusPartialContent}
	if maxDownloadSize > 0 {
		spec.Header["Range"] = fmt.Sprintf("bytes=0-%d", maxDownloadSize-1)
	}
	return spec, nil
}

// List fetches one page of the direct children of loc. maxResults 0 lets the
// service pick the page size.
func List(cfg Config, loc storage.Location, pageToken string, maxResults int) (*request.Spec[*storage.ListResult], error) {
	if maxResults < 0 || maxResults > MaxListResults {
		return nil, storage.InvalidArgument(fmt.Sprintf("max results must be within [1, %d], got %d", MaxListResults, maxResults))
	}
	spec := request.NewSpec(http.MethodGet, cfg.URL(loc.BucketOnlyServerURL()), func(_ connection.Connection, body []byte) (*storage.ListResult, error) {
		return storage.ParseListResult(loc.Bucket, body)
	})
	spec.Timeout = cfg.AttemptTimeout
	spec.MaxRetryTime = cfg.MaxOperationRetryTime
	spec.ErrorHandler = bucketErrorHandler(loc)

	if !loc.IsRoot() {
		spec.URLParams["prefix"] = loc.Path + "/"
	}
	spec.URLParams["delimiter"] = "/"
	if pageToken != "" {
		spec.URLParams["pageToken"] = pageToken
	}
	if maxResults > 0 {
		spec.URLParams["maxResults"] = fmt.Sprint(maxResults)
	}
	return spec, nil
}

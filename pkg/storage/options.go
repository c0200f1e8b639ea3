package storage

import "maps"

// DefaultContentType is sent when an upload names no content type.
const DefaultContentType = "application/octet-stream"

// UploadOptions holds the settings of one upload. ChunkSize and SessionURL only
// matter to resumable uploads.
type UploadOptions struct {
	ContentType string
	Metadata    *SettableMetadata
	Progress    ProgressReporter
	// ChunkSize is the bytes sent per chunk request; 0 selects the default.
	ChunkSize int64
	// SessionURL continues a session opened earlier instead of starting one.
	SessionURL string
}

// ListOptions selects one page of a listing.
type ListOptions struct {
	// MaxResults is the page size; 0 lets the service decide.
	MaxResults int
	PageToken  string
}

// DownloadOptions bounds a download.
type DownloadOptions struct {
	// MaxDownloadSize limits the bytes fetched; 0 fetches everything.
	MaxDownloadSize int64
}

type (
	UploadOption   func(*UploadOptions)
	ListOption     func(*ListOptions)
	DownloadOption func(*DownloadOptions)
)

func apply[O any, F ~func(*O)](o O, opts []F) O {
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	return o
}

// BuildUploadOptions resolves opts over the upload defaults. Later options win.
func BuildUploadOptions(opts ...UploadOption) UploadOptions {
	return apply(UploadOptions{ContentType: DefaultContentType}, opts)
}

// BuildListOptions resolves opts. Later options win.
func BuildListOptions(opts ...ListOption) ListOptions {
	return apply(ListOptions{}, opts)
}

// BuildDownloadOptions resolves opts. Later options win.
func BuildDownloadOptions(opts ...DownloadOption) DownloadOptions {
	return apply(DownloadOptions{}, opts)
}

func WithContentType(contentType string) UploadOption {
	return func(o *UploadOptions) { o.ContentType = contentType }
}

// WithMetadata replaces the metadata stored with the object. A content type in
// m takes precedence over WithContentType.
func WithMetadata(m *SettableMetadata) UploadOption {
	return func(o *UploadOptions) { o.Metadata = m }
}

// WithCustomMetadata merges kv into the custom metadata of the upload without
// modifying a SettableMetadata passed to WithMetadata.
func WithCustomMetadata(kv map[string]string) UploadOption {
	return func(o *UploadOptions) {
		var m SettableMetadata
		if o.Metadata != nil {
			m = *o.Metadata
		}
		custom := make(map[string]string, len(m.CustomMetadata)+len(kv))
		maps.Copy(custom, m.CustomMetadata)
		maps.Copy(custom, kv)
		m.CustomMetadata = custom
		o.Metadata = &m
	}
}

// WithUploadProgress reports transferred bytes to p.
func WithUploadProgress(p ProgressReporter) UploadOption {
	return func(o *UploadOptions) { o.Progress = p }
}

func WithChunkSize(size int64) UploadOption {
	return func(o *UploadOptions) { o.ChunkSize = size }
}

// WithSessionURL continues the resumable session at url from the offset the
// service reports.
func WithSessionURL(url string) UploadOption {
	return func(o *UploadOptions) { o.SessionURL = url }
}

func WithMaxResults(n int) ListOption {
	return func(o *ListOptions) { o.MaxResults = n }
}

// WithPageToken continues a listing after the page that returned token.
func WithPageToken(token string) ListOption {
	return func(o *ListOptions) { o.PageToken = token }
}

func WithMaxDownloadSize(n int64) DownloadOption {
	return func(o *DownloadOptions) { o.MaxDownloadSize = n }
}

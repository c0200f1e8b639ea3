package storage

import (
	"net/url"
	"strings"
	"time"
)

// Location addresses an object (or the root) inside a bucket.
type Location struct {
	Bucket string
	Path   string
}

// NewLocation normalizes path by trimming surrounding slashes.
func NewLocation(bucket, path string) Location {
	return Location{Bucket: bucket, Path: strings.Trim(path, "/")}
}

// IsRoot reports whether the location points at the bucket itself.
func (l Location) IsRoot() bool {
	return l.Path == ""
}

// Name returns the last path segment.
func (l Location) Name() string {
	if i := strings.LastIndex(l.Path, "/"); i >= 0 {
		return l.Path[i+1:]
	}
	return l.Path
}

// Child returns the location of name below l.
func (l Location) Child(name string) Location {
	if l.IsRoot() {
		return NewLocation(l.Bucket, name)
	}
	return NewLocation(l.Bucket, l.Path+"/"+strings.Trim(name, "/"))
}

// BucketOnlyServerURL is the collection path of the bucket's objects.
func (l Location) BucketOnlyServerURL() string {
	return "/b/" + url.PathEscape(l.Bucket) + "/o"
}

// FullServerURL is the object path; the object name is a single escaped segment.
func (l Location) FullServerURL() string {
	return l.BucketOnlyServerURL() + "/" + url.PathEscape(l.Path)
}

// String implements fmt.Stringer
func (l Location) String() string {
	return "gs://" + l.Bucket + "/" + l.Path
}

// Metadata contains detailed metadata about a storage object
type Metadata struct {
	Bucket             string
	FullPath           string
	Name               string
	Size               int64
	Generation         string
	Metageneration     string
	TimeCreated        time.Time
	Updated            time.Time
	MD5Hash            string
	CacheControl       string
	ContentDisposition string
	ContentEncoding    string
	ContentLanguage    string
	ContentType        string
	CustomMetadata     map[string]string
	DownloadTokens     []string
}

// SettableMetadata is the writable subset of Metadata. Nil fields are left untouched
// on update; a pointer to "" clears the field.
type SettableMetadata struct {
	CacheControl       *string
	ContentDisposition *string
	ContentEncoding    *string
	ContentLanguage    *string
	ContentType        *string
	MD5Hash            *string
	CustomMetadata     map[string]string
}

// ListResult is one page of a listing, or the accumulation of many.
type ListResult struct {
	Prefixes      []Location
	Items         []Location
	NextPageToken string
}

// UploadResult is returned by a completed upload.
type UploadResult struct {
	Metadata *Metadata
	Location Location
}

// ProgressReporter reports operation progress
type ProgressReporter interface {
	// Update is called with the bytes confirmed so far; totalBytes is -1 when unknown.
	Update(bytesTransferred, totalBytes int64)
	Done()
	Error(err error)
}

// String returns a pointer to s, for building SettableMetadata literals.
func String(s string) *string {
	return &s
}

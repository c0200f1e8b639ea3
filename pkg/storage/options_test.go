package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildUploadOptions(t *testing.T) {
	o := BuildUploadOptions()
	assert.Equal(t, DefaultContentType, o.ContentType)
	assert.Nil(t, o.Metadata)

	base := &SettableMetadata{CacheControl: String("no-cache"), CustomMetadata: map[string]string{"a": "1"}}
	o = BuildUploadOptions(
		WithContentType("text/plain"),
		nil,
		WithMetadata(base),
		WithCustomMetadata(map[string]string{"b": "2"}),
		WithCustomMetadata(map[string]string{"a": "3"}),
		WithChunkSize(1024),
		WithChunkSize(2048),
		WithSessionURL("https://storage.test/upload/1"),
	)
	assert.Equal(t, "text/plain", o.ContentType)
	assert.Equal(t, int64(2048), o.ChunkSize)
	assert.Equal(t, "https://storage.test/upload/1", o.SessionURL)
	assert.Equal(t, "no-cache", *o.Metadata.CacheControl)
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, o.Metadata.CustomMetadata)
	assert.Equal(t, map[string]string{"a": "1"}, base.CustomMetadata)
}

func TestBuildListAndDownloadOptions(t *testing.T) {
	assert.Equal(t, ListOptions{}, BuildListOptions())
	assert.Equal(t, ListOptions{MaxResults: 10, PageToken: "t"}, BuildListOptions(WithMaxResults(10), WithPageToken("t")))
	assert.Equal(t, DownloadOptions{MaxDownloadSize: 5}, BuildDownloadOptions(WithMaxDownloadSize(5)))
}

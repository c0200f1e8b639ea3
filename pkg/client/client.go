// Package client is the application-facing object-storage client. Each method
// builds the operation's request spec and runs it on a shared executor.
package client

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/list"
	"github.com/sgl-project/objclient/pkg/logging"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/requests"
	"github.com/sgl-project/objclient/pkg/storage"
	"github.com/sgl-project/objclient/pkg/upload"
)

// Client talks to one storage endpoint.
type Client struct {
	config *Config
	req    requests.Config
	exec   *request.Executor
	logger logging.Interface
}

// New validates config and builds a client.
func New(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	factory := config.Factory
	if factory == nil {
		factory = connection.NewHTTPFactory(config.HTTPClient, config.MaxResponseBytes)
	}
	opts := []request.ExecutorOption{
		request.WithRetryPolicy(config.Retry),
		request.WithLogger(config.Logger),
		request.WithTokenSource(config.tokenSource()),
	}
	if config.Clock != nil {
		opts = append(opts, request.WithClock(config.Clock))
	}
	if config.Registerer != nil && config.Metrics.Namespace != "" {
		opts = append(opts, request.WithMetrics(request.NewMetrics(config.Metrics.Namespace, config.Registerer)))
	}
	exec, err := request.NewExecutor(factory, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		req:    config.requestsConfig(),
		exec:   exec,
		logger: config.Logger,
	}, nil
}

// Executor returns the executor requests run on.
func (c *Client) Executor() *request.Executor {
	return c.exec
}

// Location resolves "gs://bucket/path", an http(s) URL of the service, or a
// path in the default bucket.
func (c *Client) Location(path string) (storage.Location, error) {
	switch {
	case strings.HasPrefix(path, "gs://"):
		bucket, object, _ := strings.Cut(strings.TrimPrefix(path, "gs://"), "/")
		if bucket == "" {
			return storage.Location{}, storage.NewError(storage.CodeInvalidURL, fmt.Sprintf("invalid URL %q: missing bucket", path))
		}
		return storage.NewLocation(bucket, object), nil
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return parseServiceURL(path)
	case c.config.Bucket == "":
		return storage.Location{}, storage.NoDefaultBucket()
	default:
		return storage.NewLocation(c.config.Bucket, path), nil
	}
}

// parseServiceURL accepts "/v0/b/{bucket}/o[/{object}]" URLs.
func parseServiceURL(raw string) (storage.Location, error) {
	invalid := storage.NewError(storage.CodeInvalidURL, fmt.Sprintf("invalid URL %q", raw))
	u, err := url.Parse(raw)
	if err != nil {
		return storage.Location{}, invalid
	}
	rest, ok := strings.CutPrefix(u.EscapedPath(), "/v0/b/")
	if !ok {
		return storage.Location{}, invalid
	}
	segments := strings.SplitN(rest, "/", 3)
	if len(segments) < 2 || segments[0] == "" || segments[1] != "o" {
		return storage.Location{}, invalid
	}
	bucket, err := url.PathUnescape(segments[0])
	if err != nil {
		return storage.Location{}, invalid
	}
	var object string
	if len(segments) == 3 {
		if object, err = url.PathUnescape(segments[2]); err != nil {
			return storage.Location{}, invalid
		}
	}
	return storage.NewLocation(bucket, object), nil
}

func run[T any](ctx context.Context, c *Client, spec *request.Spec[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return request.Do(ctx, c.exec, spec)
}

// GetMetadata fetches the metadata of the object at loc.
func (c *Client) GetMetadata(ctx context.Context, loc storage.Location) (*storage.Metadata, error) {
	spec, err := requests.GetMetadata(c.req, loc)
	return run(ctx, c, spec, err)
}

// UpdateMetadata changes the settable metadata of the object at loc.
func (c *Client) UpdateMetadata(ctx context.Context, loc storage.Location, m storage.SettableMetadata) (*storage.Metadata, error) {
	spec, err := requests.UpdateMetadata(c.req, loc, m)
	return run(ctx, c, spec, err)
}

// Delete removes the object at loc.
func (c *Client) Delete(ctx context.Context, loc storage.Location) error {
	spec, err := requests.DeleteObject(c.req, loc)
	_, err = run(ctx, c, spec, err)
	return err
}

// GetDownloadURL returns a URL serving the object's bytes.
func (c *Client) GetDownloadURL(ctx context.Context, loc storage.Location) (string, error) {
	spec, err := requests.GetDownloadURL(c.req, loc)
	return run(ctx, c, spec, err)
}

// GetBytes downloads the object at loc.
func (c *Client) GetBytes(ctx context.Context, loc storage.Location, opts ...storage.DownloadOption) ([]byte, error) {
	o := storage.BuildDownloadOptions(opts...)
	spec, err := requests.GetBytes(c.req, loc, o.MaxDownloadSize)
	return run(ctx, c, spec, err)
}

// List returns one page of the objects and prefixes directly below loc.
func (c *Client) List(ctx context.Context, loc storage.Location, opts ...storage.ListOption) (*storage.ListResult, error) {
	o := storage.BuildListOptions(opts...)
	spec, err := requests.List(c.req, loc, o.PageToken, o.MaxResults)
	return run(ctx, c, spec, err)
}

func (c *Client) pageFetcher(loc storage.Location, maxResults int) list.PageFetcher {
	return func(ctx context.Context, pageToken string) (*storage.ListResult, error) {
		return c.List(ctx, loc, storage.WithPageToken(pageToken), storage.WithMaxResults(maxResults))
	}
}

// Pages iterates over the pages of a listing of loc.
func (c *Client) Pages(ctx context.Context, loc storage.Location, maxResults int) iter.Seq2[*storage.ListResult, error] {
	return list.Pages(ctx, c.pageFetcher(loc, maxResults))
}

// ListAll lists every object and prefix below loc, following page tokens.
func (c *Client) ListAll(ctx context.Context, loc storage.Location) (*storage.ListResult, error) {
	return list.CollectAll(ctx, c.pageFetcher(loc, requests.MaxListResults))
}

// Upload stores data at loc with a single multipart request.
func (c *Client) Upload(ctx context.Context, loc storage.Location, data []byte, opts ...storage.UploadOption) (*storage.UploadResult, error) {
	o := storage.BuildUploadOptions(opts...)
	spec, err := requests.MultipartUpload(c.req, loc, data, o.ContentType, o.Metadata)
	m, err := run(ctx, c, spec, err)
	if err != nil {
		if o.Progress != nil {
			o.Progress.Error(err)
		}
		return nil, err
	}
	if o.Progress != nil {
		o.Progress.Update(int64(len(data)), int64(len(data)))
		o.Progress.Done()
	}
	return &storage.UploadResult{Metadata: m, Location: loc}, nil
}

// NewUpload prepares a resumable upload of src to loc. The task does nothing
// until started.
func (c *Client) NewUpload(loc storage.Location, src *upload.Source, opts ...storage.UploadOption) (*upload.Task, error) {
	if c.config.ChunkSize > 0 {
		opts = append([]storage.UploadOption{storage.WithChunkSize(c.config.ChunkSize)}, opts...)
	}
	return upload.New(c.exec, c.req, loc, src, opts...)
}

// UploadResumable runs a resumable upload of src to loc to completion.
// Canceling ctx cancels the upload.
func (c *Client) UploadResumable(ctx context.Context, loc storage.Location, src *upload.Source, opts ...storage.UploadOption) (*storage.UploadResult, error) {
	task, err := c.NewUpload(loc, src, opts...)
	if err != nil {
		return nil, err
	}
	if err := task.Start(ctx); err != nil {
		return nil, err
	}
	return task.Wait(context.Background())
}

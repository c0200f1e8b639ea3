package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPConnection implements Connection on top of net/http.
type HTTPConnection struct {
	client       *http.Client
	maxBodyBytes int64

	mu      sync.Mutex
	sent    bool
	aborted bool
	cancel  context.CancelFunc
	status  int
	header  http.Header
	body    []byte
}

var _ Connection = (*HTTPConnection)(nil)

// NewHTTPFactory returns a Factory whose connections share client.
// maxBodyBytes bounds response bodies; 0 means unbounded.
func NewHTTPFactory(client *http.Client, maxBodyBytes int64) Factory {
	if client == nil {
		client = http.DefaultClient
	}
	return func() Connection {
		return &HTTPConnection{client: client, maxBodyBytes: maxBodyBytes}
	}
}

// Send implements Connection
func (c *HTTPConnection) Send(ctx context.Context, req *Request) Outcome {
	c.mu.Lock()
	if c.sent {
		c.mu.Unlock()
		return Outcome{Kind: KindNetworkFailure, Err: errors.New("connection already used")}
	}
	c.sent = true
	if c.aborted {
		c.mu.Unlock()
		return Outcome{Kind: KindAborted}
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	attemptCtx := ctx
	if req.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		attemptCtx, timeoutCancel = context.WithTimeout(ctx, req.Timeout)
		defer timeoutCancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Outcome{Kind: KindNetworkFailure, Err: fmt.Errorf("building request: %w", err)}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return c.failure(ctx, attemptCtx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readAllWithLimit(resp.Body, c.maxBodyBytes)
	if err != nil {
		return c.failure(ctx, attemptCtx, err)
	}

	c.mu.Lock()
	c.status = resp.StatusCode
	c.header = resp.Header
	c.body = body
	c.mu.Unlock()

	return Outcome{Kind: KindCompleted, Status: resp.StatusCode, Header: resp.Header, Body: body}
}

// failure maps a transport error; abort wins over timeout.
func (c *HTTPConnection) failure(ctx, attemptCtx context.Context, err error) Outcome {
	c.mu.Lock()
	aborted := c.aborted
	c.mu.Unlock()

	switch {
	case aborted || ctx.Err() != nil:
		return Outcome{Kind: KindAborted, Err: err}
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return Outcome{Kind: KindTimeout, Err: err}
	default:
		return Outcome{Kind: KindNetworkFailure, Err: err}
	}
}

// Abort implements Connection
func (c *HTTPConnection) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
	if c.cancel != nil {
		c.cancel()
	}
}

// Status implements Connection
func (c *HTTPConnection) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ResponseHeader implements Connection
func (c *HTTPConnection) ResponseHeader(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header == nil {
		return ""
	}
	return c.header.Get(name)
}

// Body implements Connection
func (c *HTTPConnection) Body() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

// ResponseTooLargeError reports that the response body exceeded the limit.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded limit of %d bytes", e.Limit)
}

func readAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(&io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}

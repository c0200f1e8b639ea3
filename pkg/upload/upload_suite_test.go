package upload

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/connection/connectiontest"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/requests"
)

func TestUpload(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Upload Task Suite")
}

const sessionURL = "https://storage.test/upload/session-1"

var testConfig = requests.Config{
	Host:                  "storage.test",
	Protocol:              "https",
	MaxOperationRetryTime: time.Minute,
	MaxUploadRetryTime:    time.Minute,
}

func testPolicy() request.RetryPolicy {
	return request.RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

// resumableServer answers the resumable protocol for a single session.
type resumableServer struct {
	mu        sync.Mutex
	persisted int64
	// chunkSteps overrides the response to the n-th chunk request (0-based).
	chunkSteps map[int]connectiontest.Step
	chunks     int
	// reportSize overrides the size reported on finalize.
	reportSize int64
}

func objectResource(size int64) string {
	return fmt.Sprintf(`{"name":"dir/file.bin","bucket":"bkt","size":"%d"}`, size)
}

func (s *resumableServer) handle(_ int, req *connection.Request) connectiontest.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Header.Get(requests.HeaderUploadCommand) {
	case requests.CommandStart:
		return connectiontest.Respond(200, "",
			requests.HeaderUploadStatus, requests.UploadStatusActive,
			requests.HeaderUploadURL, sessionURL)
	case requests.CommandQuery:
		return connectiontest.Respond(200, "",
			requests.HeaderUploadStatus, requests.UploadStatusActive,
			requests.HeaderUploadSizeReceived, strconv.FormatInt(s.persisted, 10))
	case requests.CommandUpload, requests.CommandUploadFinalize:
		n := s.chunks
		s.chunks++
		if step, ok := s.chunkSteps[n]; ok {
			return step
		}
		offset, _ := strconv.ParseInt(req.Header.Get(requests.HeaderUploadOffset), 10, 64)
		s.persisted = offset + int64(len(req.Body))
		if req.Header.Get(requests.HeaderUploadCommand) == requests.CommandUpload {
			return connectiontest.Respond(200, "", requests.HeaderUploadStatus, requests.UploadStatusActive)
		}
		size := s.persisted
		if s.reportSize > 0 {
			size = s.reportSize
		}
		return connectiontest.Respond(200, objectResource(size),
			requests.HeaderUploadStatus, requests.UploadStatusFinal,
			requests.HeaderUploadSizeReceived, strconv.FormatInt(size, 10))
	default:
		return connectiontest.Respond(200, objectResource(s.persisted))
	}
}

type chunkRequest struct {
	Command string
	Offset  string
	Body    string
}

func chunkRequests(f *connectiontest.Factory) []chunkRequest {
	var out []chunkRequest
	for _, r := range f.Requests() {
		cmd := r.Header.Get(requests.HeaderUploadCommand)
		if cmd == requests.CommandUpload || cmd == requests.CommandUploadFinalize {
			out = append(out, chunkRequest{Command: cmd, Offset: r.Header.Get(requests.HeaderUploadOffset), Body: string(r.Body)})
		}
	}
	return out
}

// progressRecorder records every progress call.
type progressRecorder struct {
	mu       sync.Mutex
	updates  [][2]int64
	done     bool
	err      error
	events   []string
	onUpdate func(n int)
}

func (p *progressRecorder) Update(transferred, total int64) {
	p.mu.Lock()
	p.updates = append(p.updates, [2]int64{transferred, total})
	p.events = append(p.events, "update")
	n := len(p.updates)
	cb := p.onUpdate
	p.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}

func (p *progressRecorder) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.events = append(p.events, "done")
}

func (p *progressRecorder) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	p.events = append(p.events, "error")
}

func (p *progressRecorder) snapshot() ([][2]int64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int64(nil), p.updates...), p.done, p.err
}

func (p *progressRecorder) eventLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// decodeHook wraps a factory so that hook runs while the response to the n-th
// chunk request (0-based) is being decoded.
type decodeHook struct {
	factory *connectiontest.Factory
	n       int
	hook    func()

	mu     sync.Mutex
	chunks int
}

func (d *decodeHook) New() connection.Connection {
	return &hookedConn{Conn: d.factory.New().(*connectiontest.Conn), owner: d}
}

type hookedConn struct {
	*connectiontest.Conn
	owner *decodeHook

	mu    sync.Mutex
	armed bool
}

func (c *hookedConn) Send(ctx context.Context, req *connection.Request) connection.Outcome {
	switch req.Header.Get(requests.HeaderUploadCommand) {
	case requests.CommandUpload, requests.CommandUploadFinalize:
		c.owner.mu.Lock()
		n := c.owner.chunks
		c.owner.chunks++
		c.owner.mu.Unlock()
		c.mu.Lock()
		c.armed = n == c.owner.n
		c.mu.Unlock()
	}
	return c.Conn.Send(ctx, req)
}

func (c *hookedConn) ResponseHeader(name string) string {
	c.mu.Lock()
	fire := c.armed
	c.armed = false
	c.mu.Unlock()
	if fire {
		c.owner.hook()
	}
	return c.Conn.ResponseHeader(name)
}

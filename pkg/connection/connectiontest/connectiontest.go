// Package connectiontest provides a scripted connection.Factory for tests.
package connectiontest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/sgl-project/objclient/pkg/connection"
)

// Step scripts one attempt.
type Step struct {
	Outcome connection.Outcome
	// Gate, if set, holds Send until it is closed or the connection is aborted.
	Gate chan struct{}
	// Started, if set, is closed once Send has been entered.
	Started chan struct{}
}

// Respond scripts a completed exchange. headers are name/value pairs.
func Respond(status int, body string, headers ...string) Step {
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return Step{Outcome: connection.Outcome{
		Kind:   connection.KindCompleted,
		Status: status,
		Header: h,
		Body:   []byte(body),
	}}
}

// NetworkFailure scripts a transport failure.
func NetworkFailure() Step {
	return Step{Outcome: connection.Outcome{
		Kind: connection.KindNetworkFailure,
		Err:  errors.New("connection reset by peer"),
	}}
}

// Timeout scripts an attempt timeout.
func Timeout() Step {
	return Step{Outcome: connection.Outcome{Kind: connection.KindTimeout}}
}

// Blocked returns s with a fresh gate and start signal.
func Blocked(s Step) Step {
	s.Gate = make(chan struct{})
	s.Started = make(chan struct{})
	return s
}

// Factory hands out scripted connections. Steps are consumed in order; when they
// run out, Handler (if set) or Default is used.
type Factory struct {
	mu       sync.Mutex
	steps    []Step
	requests []*connection.Request
	created  int
	aborted  int

	// Handler computes the step for the n-th sent request (0-based).
	Handler func(n int, req *connection.Request) Step
	// Default is replayed when the script is exhausted and Handler is nil.
	Default Step
}

// NewFactory creates a factory replaying steps.
func NewFactory(steps ...Step) *Factory {
	return &Factory{
		steps:   steps,
		Default: NetworkFailure(),
	}
}

// New is a connection.Factory.
func (f *Factory) New() connection.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &Conn{factory: f, abortCh: make(chan struct{})}
}

// Push appends steps to the script.
func (f *Factory) Push(steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, steps...)
}

// Requests returns the requests that reached the wire, in order.
func (f *Factory) Requests() []*connection.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*connection.Request(nil), f.requests...)
}

// Created returns the number of connections handed out.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Aborted returns the number of connections that had Abort called.
func (f *Factory) Aborted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func (f *Factory) next(req *connection.Request) Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	if len(f.steps) > 0 {
		s := f.steps[0]
		f.steps = f.steps[1:]
		return s
	}
	if f.Handler != nil {
		return f.Handler(n, req)
	}
	return f.Default
}

// Conn is a scripted connection.Connection.
type Conn struct {
	factory *Factory

	mu        sync.Mutex
	abortOnce sync.Once
	abortCh   chan struct{}
	outcome   connection.Outcome
}

var _ connection.Connection = (*Conn)(nil)

// Send implements connection.Connection
func (c *Conn) Send(ctx context.Context, req *connection.Request) connection.Outcome {
	select {
	case <-c.abortCh:
		return connection.Outcome{Kind: connection.KindAborted}
	default:
	}

	step := c.factory.next(req)
	if step.Started != nil {
		close(step.Started)
	}

	out := step.Outcome
	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-c.abortCh:
			out = connection.Outcome{Kind: connection.KindAborted}
		case <-ctx.Done():
			out = connection.Outcome{Kind: connection.KindAborted, Err: ctx.Err()}
		}
	}

	c.mu.Lock()
	c.outcome = out
	c.mu.Unlock()
	return out
}

// Abort implements connection.Connection
func (c *Conn) Abort() {
	c.abortOnce.Do(func() {
		close(c.abortCh)
		c.factory.mu.Lock()
		c.factory.aborted++
		c.factory.mu.Unlock()
	})
}

// Status implements connection.Connection
func (c *Conn) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome.Status
}

// ResponseHeader implements connection.Connection
func (c *Conn) ResponseHeader(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome.Header == nil {
		return ""
	}
	return c.outcome.Header.Get(name)
}

// Body implements connection.Connection
func (c *Conn) Body() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome.Body
}

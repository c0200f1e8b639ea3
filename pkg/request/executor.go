package request

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/sgl-project/objclient/pkg/connection"
	"github.com/sgl-project/objclient/pkg/logging"
	"github.com/sgl-project/objclient/pkg/storage"
	"github.com/sgl-project/objclient/pkg/version"
)

// ClientHeader identifies this library to the service.
const ClientHeader = "X-Objclient-Version"

// RetryEvent describes a scheduled retry.
type RetryEvent struct {
	Method  string
	URL     string
	Attempt int // the attempt that just failed, 1-based
	Delay   time.Duration
	Status  int
	Err     error
}

// Executor runs Specs against connections from an injected factory.
type Executor struct {
	factory connection.Factory
	policy  RetryPolicy
	tokens  oauth2.TokenSource
	clock   clock.Clock
	logger  logging.Interface
	metrics *Metrics
	onRetry func(RetryEvent)
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithRetryPolicy sets the retry policy
func WithRetryPolicy(p RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithTokenSource authorizes every attempt with a token from ts.
func WithTokenSource(ts oauth2.TokenSource) ExecutorOption {
	return func(e *Executor) { e.tokens = ts }
}

// WithClock replaces the clock used for backoff waits.
func WithClock(c clock.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger
func WithLogger(l logging.Interface) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics enables metrics collection
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithRetryHook registers fn to be called before every backoff wait.
func WithRetryHook(fn func(RetryEvent)) ExecutorOption {
	return func(e *Executor) { e.onRetry = fn }
}

// NewExecutor creates an executor. factory is required.
func NewExecutor(factory connection.Factory, opts ...ExecutorOption) (*Executor, error) {
	if factory == nil {
		return nil, errors.New("connection factory is required")
	}
	e := &Executor{
		factory: factory,
		policy:  DefaultRetryPolicy(),
		clock:   clock.RealClock{},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	return e, nil
}

// Metrics returns the executor's metrics, possibly nil.
func (e *Executor) Metrics() *Metrics {
	return e.metrics
}

// Logger returns the executor's logger.
func (e *Executor) Logger() logging.Interface {
	return e.logger
}

// Start begins executing spec and returns immediately.
func Start[T any](ctx context.Context, e *Executor, spec *Spec[T]) *Handle[T] {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{
		cancel: cancel,
		done:   make(chan struct{}),
		method: spec.Method,
		ctrs:   e.metrics,
	}
	if spec.Decode == nil {
		cancel()
		h.settle(*new(T), storage.InvalidArgument("request spec has no decode function"))
		return h
	}
	go h.run(ctx, e, spec)
	return h
}

// Do executes spec and waits for its result.
func Do[T any](ctx context.Context, e *Executor, spec *Spec[T]) (T, error) {
	h := Start(ctx, e, spec)
	select {
	case <-h.done:
	case <-ctx.Done():
		h.Cancel()
		<-h.done
	}
	return h.value, h.err
}

// Handle is the pending result of Start.
type Handle[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	method string
	ctrs   *Metrics

	mu       sync.Mutex
	conn     connection.Connection
	canceled bool
	settled  bool
	value    T
	err      error
}

// Cancel aborts the live attempt and settles the handle as canceled, even when
// a response is already being decoded. It is a no-op once the handle has settled.
func (h *Handle[T]) Cancel() {
	h.mu.Lock()
	if h.settled || h.canceled {
		h.mu.Unlock()
		return
	}
	h.canceled = true
	conn := h.conn
	h.mu.Unlock()

	if conn != nil {
		conn.Abort()
	}
	h.cancel()
}

// Done is closed once the handle settles.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle settles or ctx ends. Ending ctx does not cancel
// the operation.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}

// attach creates the attempt's connection unless the handle was canceled.
func (h *Handle[T]) attach(factory connection.Factory) connection.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		return nil
	}
	h.conn = factory()
	return h.conn
}

func (h *Handle[T]) detach() {
	h.mu.Lock()
	h.conn = nil
	h.mu.Unlock()
}

func (h *Handle[T]) isCanceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

func (h *Handle[T]) settle(v T, err error) {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return
	}
	h.settled = true
	if h.canceled && !storage.IsCanceled(err) {
		v, err = *new(T), storage.Canceled()
	}
	h.value, h.err = v, err
	h.mu.Unlock()

	h.ctrs.observeResult(h.method, err)
	close(h.done)
}

func (h *Handle[T]) canceledError(ctx context.Context) error {
	if !h.isCanceled() && ctx.Err() != nil {
		return storage.WrapError(storage.CodeCanceled, "operation context ended", context.Cause(ctx))
	}
	return storage.Canceled()
}

func (h *Handle[T]) run(ctx context.Context, e *Executor, spec *Spec[T]) {
	defer h.cancel()

	var zero T
	log := e.logger.WithField("method", spec.Method).WithField("url", spec.URL)
	start := e.clock.Now()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			h.settle(zero, h.canceledError(ctx))
			return
		}
		req, err := buildRequest(e, spec)
		if err != nil {
			h.settle(zero, err)
			return
		}
		conn := h.attach(e.factory)
		if conn == nil {
			h.settle(zero, h.canceledError(ctx))
			return
		}

		log.WithField("attempt", attempt).Debug("Sending request")
		attemptStart := e.clock.Now()
		out := conn.Send(ctx, req)
		h.detach()
		e.metrics.observeAttempt(spec.Method, out, e.clock.Since(attemptStart))

		if h.isCanceled() || ctx.Err() != nil {
			h.settle(zero, h.canceledError(ctx))
			return
		}

		switch classify(spec, out) {
		case verdictSuccess:
			v, err := decode(spec, conn, out.Body)
			h.settle(v, err)
			return
		case verdictTerminal:
			h.settle(zero, terminalError(spec, conn, out))
			return
		case verdictAborted:
			h.settle(zero, storage.Canceled())
			return
		}

		cause := retryCause(out)
		if attempt >= e.policy.MaxAttempts {
			log.WithError(cause).WithField("attempts", attempt).Warn("Retry limit exceeded")
			h.settle(zero, storage.RetryLimitExceeded(attempt, out.Status, cause))
			return
		}
		delay := e.policy.Delay(attempt)
		if spec.MaxRetryTime > 0 && e.clock.Since(start)+delay > spec.MaxRetryTime {
			log.WithError(cause).WithField("elapsed", e.clock.Since(start).String()).Warn("Retry time budget exceeded")
			h.settle(zero, storage.RetryLimitExceeded(attempt, out.Status, cause))
			return
		}

		log.WithError(cause).
			WithField("attempt", attempt).
			WithField("delay", delay.String()).
			Info("Retrying request")
		e.metrics.observeRetry(spec.Method)
		if e.onRetry != nil {
			e.onRetry(RetryEvent{
				Method:  spec.Method,
				URL:     spec.URL,
				Attempt: attempt,
				Delay:   delay,
				Status:  out.Status,
				Err:     cause,
			})
		}

		timer := e.clock.NewTimer(delay)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			h.settle(zero, h.canceledError(ctx))
			return
		}
	}
}

func decode[T any](spec *Spec[T], conn connection.Connection, body []byte) (T, error) {
	v, err := spec.Decode(conn, body)
	if err == nil {
		return v, nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return v, err
	}
	return v, storage.WrapError(storage.CodeInternalError, "failed to decode response", err)
}

func terminalError[T any](spec *Spec[T], conn connection.Connection, out connection.Outcome) error {
	err := StatusError(out.Status, out.Body)
	if spec.ErrorHandler != nil {
		if remapped := spec.ErrorHandler(conn, err); remapped != nil {
			if remapped.Status == 0 {
				remapped.Status = out.Status
			}
			return remapped
		}
	}
	return err
}

func buildRequest[T any](e *Executor, spec *Spec[T]) (*connection.Request, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, storage.WrapError(storage.CodeInvalidURL, fmt.Sprintf("invalid request URL %q", spec.URL), err)
	}
	if len(spec.URLParams) > 0 {
		q := u.Query()
		for k, v := range spec.URLParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	h := http.Header{}
	for k, v := range spec.Header {
		h.Set(k, v)
	}
	h.Set(ClientHeader, version.ClientID())
	if e.tokens != nil {
		tok, err := e.tokens.Token()
		if err != nil {
			return nil, storage.WrapError(storage.CodeUnauthenticated, "failed to obtain auth token", err)
		}
		h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	return &connection.Request{
		Method:  spec.Method,
		URL:     u.String(),
		Header:  h,
		Body:    spec.Body,
		Timeout: spec.Timeout,
	}, nil
}

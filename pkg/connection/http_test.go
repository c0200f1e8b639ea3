package connection

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPConnectionCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-Header", r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(append([]byte(r.Method+":"), body...))
	}))
	defer srv.Close()

	conn := NewHTTPFactory(srv.Client(), 0)()
	out := conn.Send(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"X-Test": []string{"yes"}},
		Body:   []byte("payload"),
	})

	require.Equal(t, KindCompleted, out.Kind)
	assert.Equal(t, http.StatusCreated, out.Status)
	assert.Equal(t, "POST:payload", string(out.Body))
	assert.Equal(t, http.StatusCreated, conn.Status())
	assert.Equal(t, "yes", conn.ResponseHeader("X-Echo-Header"))
	assert.Equal(t, "POST:payload", string(conn.Body()))
}

func TestHTTPConnectionNotReusable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	conn := NewHTTPFactory(srv.Client(), 0)()
	req := &Request{Method: http.MethodGet, URL: srv.URL}
	require.Equal(t, KindCompleted, conn.Send(context.Background(), req).Kind)
	assert.Equal(t, KindNetworkFailure, conn.Send(context.Background(), req).Kind)
}

func TestHTTPConnectionTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	conn := NewHTTPFactory(srv.Client(), 0)()
	out := conn.Send(context.Background(), &Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Timeout: 20 * time.Millisecond,
	})
	assert.Equal(t, KindTimeout, out.Kind)
	assert.Error(t, out.Err)
}

func TestHTTPConnectionAbort(t *testing.T) {
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}))
	defer srv.Close()

	conn := NewHTTPFactory(srv.Client(), 0)()
	done := make(chan Outcome, 1)
	go func() {
		done <- conn.Send(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	}()

	<-entered
	conn.Abort()
	conn.Abort()

	select {
	case out := <-done:
		assert.Equal(t, KindAborted, out.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("send did not resolve after abort")
	}
}

func TestHTTPConnectionAbortBeforeSend(t *testing.T) {
	conn := NewHTTPFactory(nil, 0)()
	conn.Abort()
	out := conn.Send(context.Background(), &Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	assert.Equal(t, KindAborted, out.Kind)
}

func TestHTTPConnectionNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := NewHTTPFactory(nil, 0)().Send(context.Background(), &Request{Method: http.MethodGet, URL: url})
	assert.Equal(t, KindNetworkFailure, out.Kind)
	assert.Error(t, out.Err)
}

func TestHTTPConnectionBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	out := NewHTTPFactory(srv.Client(), 4)().Send(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	assert.Equal(t, KindNetworkFailure, out.Kind)
	var tooLarge ResponseTooLargeError
	assert.ErrorAs(t, out.Err, &tooLarge)
	assert.Equal(t, int64(4), tooLarge.Limit)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "completed", KindCompleted.String())
	assert.Equal(t, "network_failure", KindNetworkFailure.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "aborted", KindAborted.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

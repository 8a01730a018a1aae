package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
	// delay is slept before answering.
	delay time.Duration
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(t *testing.T, pingers ...Pinger) *Server {
	t.Helper()
	s := newTestServer(t, Services{})
	s.pingers = pingers
	return s
}

func decodeReady(t *testing.T, w *httptest.ResponseRecorder) readyResponse {
	t.Helper()
	var resp readyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// TestHandleHealth_OK verifies that GET /api/health returns 200 with
// {"status":"ok"} and the build version.
func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Services{})
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Version)
}

func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t)
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeReady(t, w)
	assert.True(t, resp.Ready)
	assert.Empty(t, resp.Checks)
}

func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t,
		&fakePinger{name: "model"},
		&fakePinger{name: "farm-api"},
	)
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeReady(t, w)
	assert.True(t, resp.Ready)
	require.Len(t, resp.Checks, 2)
	for _, c := range resp.Checks {
		assert.True(t, c.OK, c.Name)
		assert.Empty(t, c.Error, c.Name)
	}
}

// TestHandleReady_OneFailing verifies 503, ready:false, and that checks keep
// Pinger order even though probes run concurrently.
func TestHandleReady_OneFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t,
		&fakePinger{name: "model", delay: 50 * time.Millisecond},
		&fakePinger{name: "qdrant", err: errors.New("connection refused")},
	)
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeReady(t, w)
	assert.False(t, resp.Ready)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, "model", resp.Checks[0].Name)
	assert.True(t, resp.Checks[0].OK)
	assert.Equal(t, "qdrant", resp.Checks[1].Name)
	assert.False(t, resp.Checks[1].OK)
	assert.Equal(t, "connection refused", resp.Checks[1].Error)
}

func TestHandleReady_AllFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t,
		&fakePinger{name: "model", err: errors.New("timeout")},
		&fakePinger{name: "qdrant", err: errors.New("connection refused")},
	)
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decodeReady(t, w)
	assert.False(t, resp.Ready)
	for _, c := range resp.Checks {
		assert.False(t, c.OK, c.Name)
	}
}

func TestPingers(t *testing.T) {
	t.Parallel()

	p := NewPinger("farm-api", func(context.Context) error { return errors.New("refused") })
	assert.Equal(t, "farm-api", p.Name())
	assert.ErrorContains(t, p.Ping(context.Background()), "health check failed: refused")
	assert.NoError(t, NewPinger("ok", func(context.Context) error { return nil }).Ping(context.Background()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	good := NewHTTPPinger("gemini", srv.URL+"/v1beta/models", http.Header{"x-goog-api-key": {"k"}})
	assert.Equal(t, "gemini", good.Name())
	assert.NoError(t, good.Ping(context.Background()))

	bad := NewHTTPPinger("gemini", srv.URL+"/v1beta/models", nil)
	assert.ErrorContains(t, bad.Ping(context.Background()), "unexpected status 403")
}

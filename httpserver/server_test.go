package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopHandler struct{}

func (noopHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.NewTextHandler(io.Discard, nil)),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, noopHandler{})
	require.NoError(t, err)
	return srv
}

// TestServerRoutes tests that handler routes and health endpoints are
// mounted.
func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.getRouter())
	defer ts.Close()

	for _, path := range []string{"/api/v1/ping", "/livez", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

// TestServerDrainUndrain tests the readiness toggle.
func TestServerDrainUndrain(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.getRouter())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/drain")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/undrain")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestServerRequiresListenAddr tests config validation.
func TestServerRequiresListenAddr(t *testing.T) {
	_, err := New(&HTTPServerConfig{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}, noopHandler{})
	require.Error(t, err)
}

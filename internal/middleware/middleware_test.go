package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(GetTenantFromContext(r.Context())))
}

func tenantRouter(keys map[string]string) http.Handler {
	r := chi.NewRouter()
	r.Use(APIKeyAuth(keys))
	r.Route("/v1/{tenant}", func(r chi.Router) {
		r.Use(RequireValidTenant)
		r.Get("/runs", okHandler)
	})
	return r
}

func TestAPIKeyAuth(t *testing.T) {
	h := tenantRouter(map[string]string{"acme": "k-acme", "lab": "k-lab"})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing", path: "/v1/acme/runs", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/v1/acme/runs", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "bearer", path: "/v1/acme/runs", header: "Bearer k-acme", want: http.StatusOK},
		{name: "raw key", path: "/v1/lab/runs", header: "k-lab", want: http.StatusOK},
		{name: "query key", path: "/v1/acme/runs?api_key=k-acme", want: http.StatusOK},
		{name: "other tenant", path: "/v1/lab/runs", header: "Bearer k-acme", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireValidTenant_BadFormat(t *testing.T) {
	r := chi.NewRouter()
	r.With(RequireValidTenant).Get("/v1/{tenant}/runs", okHandler)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/a.b/runs", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, 1)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("acme")
	assert.True(t, ok)
	ok, _ = rl.Allow("acme")
	assert.True(t, ok)
	ok, wait := rl.Allow("acme")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = rl.Allow("lab")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(1500 * time.Millisecond)
	ok, _ = rl.Allow("acme")
	assert.True(t, ok)

	now = now.Add(time.Hour)
	rl.Sweep(10 * time.Minute)
	assert.Empty(t, rl.buckets)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	r := chi.NewRouter()
	r.With(rl.Middleware).Get("/v1/{tenant}/runs", okHandler)

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/acme/runs", nil))
		return rec
	}
	assert.Equal(t, http.StatusOK, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("file", ""))
	assert.NoError(t, ValidatePath("file", "samples/foo bar.c"))
	assert.NoError(t, ValidatePath("file", "/home/u/seeds"))
	assert.Error(t, ValidatePath("file", "foo.c; rm -rf /"))
	assert.Error(t, ValidatePath("file", "$(id).c"))
	assert.Error(t, ValidatePath("file", "foo\x00.c"))
	assert.Error(t, ValidatePath("file", "--help"))
	assert.ErrorContains(t, ValidatePath("input_dir", "a|b"), "input_dir")
}

func TestValidateBound(t *testing.T) {
	assert.NoError(t, ValidateBound(""))
	assert.NoError(t, ValidateBound("10"))
	assert.NoError(t, ValidateBound(" 5 "))
	assert.Error(t, ValidateBound("0"))
	assert.Error(t, ValidateBound("-1"))
	assert.Error(t, ValidateBound("5x"))
}

func TestValidateRunIDAndLimits(t *testing.T) {
	assert.NoError(t, ValidateRunID("6f1c2f0e-4b7a-4d55-9a53-2d8b1f0f2c11"))
	assert.Error(t, ValidateRunID(""))
	assert.Error(t, ValidateRunID("not-a-uuid"))
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(500))
	assert.Equal(t, 7, ValidateDays(-1))
	assert.Equal(t, "abc", SanitizeString(" a\x00b\x1bc "))
}

func TestHealthHandler(t *testing.T) {
	dir := t.TempDir()
	checkers := map[string]HealthChecker{
		"tools": &InstallRootChecker{Root: func() string { return dir }},
		"store": CheckerFunc(func(context.Context) error { return nil }),
	}
	rec := httptest.NewRecorder()
	HealthHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	checkers["store"] = CheckerFunc(func(context.Context) error { return errors.New("bucket gone") })
	rec = httptest.NewRecorder()
	HealthHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket gone")
}

func TestReadinessHandler(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	tests := []struct {
		root string
		want int
	}{
		{root: dir, want: http.StatusOK},
		{root: filepath.Join(dir, "missing"), want: http.StatusServiceUnavailable},
		{root: file, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		root := tt.root
		rec := httptest.NewRecorder()
		ReadinessHandler(&InstallRootChecker{Root: func() string { return root }})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, tt.want, rec.Code, root)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/{tenant}/runs", okHandler)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/acme/runs", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/lab/runs", nil))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/v1/{tenant}/runs", "200")))

	m.RunStarted("CBMC")
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RunsRunning.WithLabelValues("CBMC")))
	m.RunFinished("CBMC", "tool_error", 3*time.Second)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.RunsRunning.WithLabelValues("CBMC")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RunsTotal.WithLabelValues("CBMC", "tool_error")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `trustinn_runs_total{status="tool_error",tool="CBMC"} 1`))
}

func TestLoggingMiddleware_KeepsStatus(t *testing.T) {
	h := LoggingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.(http.Flusher).Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, rec.Flushed)
}

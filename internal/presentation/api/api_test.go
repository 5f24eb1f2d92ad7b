package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hilthontt/escrow/internal/infrastructure/configs"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/metrics"
	"github.com/hilthontt/escrow/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/escrow/internal/presentation/handler/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(cfg configs.Config, limit int) http.Handler {
	app := NewApplication(
		cfg,
		nil,
		nil,
		nil,
		healthHandler.NewHandler(nil),
		logging.NewNop(),
		metrics.New(),
		ratelimiter.New(ratelimiter.Options{MaxRatePerSecond: limit, MaxBurst: limit}),
	)
	return app.Mount()
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMount_HealthRoutes(t *testing.T) {
	h := newTestApp(configs.Config{}, 100)

	for _, path := range []string{"/api/health", "/api/healthz", "/api/live", "/api/ready"} {
		rec := serve(h, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"), path)
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/health")
}

func TestMount_RateLimit(t *testing.T) {
	h := newTestApp(configs.Config{}, 1)

	first := serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	other.Header.Set("X-RateLimit-Key", "another-client")
	assert.Equal(t, http.StatusOK, serve(h, other).Code)
}

func TestMount_Cors(t *testing.T) {
	cfg := configs.Config{HTTP: configs.HTTPConfig{AllowedOrigins: []string{"https://escrow.example"}}}
	h := newTestApp(cfg, 100)

	preflight := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	preflight.Header.Set("Origin", "https://escrow.example")
	rec := serve(h, preflight)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://escrow.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))

	foreign := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	foreign.Header.Set("Origin", "https://evil.example")
	rec = serve(h, foreign)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAllowedOrigin(t *testing.T) {
	assert.Equal(t, "*", allowedOrigin(nil, "https://a.example"))
	assert.Equal(t, "*", allowedOrigin([]string{"*"}, "https://a.example"))
	assert.Equal(t, "https://a.example", allowedOrigin([]string{"https://a.example"}, "https://a.example"))
	assert.Empty(t, allowedOrigin([]string{"https://a.example"}, "https://b.example"))
}

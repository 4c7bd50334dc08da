package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/stockscan/internal/interfaces/http/handlers"
	"github.com/turtacn/stockscan/internal/interfaces/http/middleware"
	"github.com/turtacn/stockscan/pkg/types/job"
)

func newTestRouter(t *testing.T, engine *batch.Engine[string], checks ...handlers.HealthChecker) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "stockscan"}, nil)
	require.NoError(t, err)
	collector.RegisterCounter("probe_total", "test counter").WithLabelValues().Inc()

	r := NewRouter(RouterConfig{
		HealthHandler: handlers.NewHealthHandler("test", checks...),
		EngineHandler: handlers.NewEngineHandler(engine, func() interface{} {
			return map[string]int{"consumed": 3}
		}),
		MetricsHandler: collector.Handler(),
		Logger:         logging.NewLoggerFromCore(core),
		Logging:        middleware.DefaultLoggingConfig(),
		Mode:           gin.TestMode,
	})
	return r, logs
}

func newEngine(t *testing.T) *batch.Engine[string] {
	t.Helper()
	e, err := batch.NewEngine[string]()
	require.NoError(t, err)
	return e
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_Liveness(t *testing.T) {
	r, logs := newTestRouter(t, newEngine(t))
	w := get(r, "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	var resp handlers.LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	assert.Zero(t, logs.Len(), "probes are not logged")
}

func TestRouter_Readiness(t *testing.T) {
	ok := handlers.NamedCheck("redis", func(context.Context) error { return nil })
	bad := handlers.NamedCheck("kafka", func(context.Context) error { return errors.New("no brokers") })

	r, _ := newTestRouter(t, newEngine(t), ok)
	assert.Equal(t, http.StatusOK, get(r, "/readyz").Code)

	r, _ = newTestRouter(t, newEngine(t), ok, bad)
	w := get(r, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp handlers.ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "healthy", resp.Components["redis"].Status)
	assert.Equal(t, "no brokers", resp.Components["kafka"].Error)
}

func TestRouter_Metrics(t *testing.T) {
	r, _ := newTestRouter(t, newEngine(t))
	w := get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stockscan_probe_total 1")
}

func TestRouter_StatsAndLastRun(t *testing.T) {
	engine := newEngine(t)
	r, logs := newTestRouter(t, engine)

	w := get(r, "/v1/runs/last")
	require.Equal(t, http.StatusNotFound, w.Code)
	var errResp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "COMMON_005", errResp.Code)

	items := []job.Item{{ID: "a"}, {ID: "b"}}
	cfg := job.RunConfig{BatchSize: 2, MaxConcurrency: 2, ItemTimeout: time.Second, PriorityMode: job.PrioritySpeed}
	_, err := engine.RunBatch(context.Background(), items, func(_ context.Context, it job.Item) (string, error) {
		return "ok-" + it.ID, nil
	}, cfg)
	require.NoError(t, err)

	w = get(r, "/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Engine batch.Counters `json:"engine"`
		Worker map[string]int `json:"worker"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.Engine.TotalProcessed)
	assert.Equal(t, int64(1), stats.Engine.Runs)
	assert.Equal(t, 3, stats.Worker["consumed"])

	w = get(r, "/v1/runs/last")
	require.Equal(t, http.StatusOK, w.Code)
	var summary job.RunSummary[string]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Empty(t, summary.Results)

	var warned bool
	for _, e := range logs.All() {
		if e.Message == "HTTP request completed with client error" {
			warned = true
		}
	}
	assert.True(t, warned, "the 404 is logged at warn")
}

func TestRouter_RequestIDIsEchoed(t *testing.T) {
	r, _ := newTestRouter(t, newEngine(t))
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_NilHandlers(t *testing.T) {
	r := NewRouter(RouterConfig{Mode: gin.TestMode})
	assert.Equal(t, http.StatusNotFound, get(r, "/healthz").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/v1/stats").Code)
}

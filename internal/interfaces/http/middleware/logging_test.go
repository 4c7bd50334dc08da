package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
)

func newLoggedEngine(cfg LoggingConfig) (*gin.Engine, *observer.ObservedLogs) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(RequestID(), RequestLogging(logging.NewLoggerFromCore(core), cfg))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "fine") })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	r.GET("/slow", func(c *gin.Context) {
		time.Sleep(20 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, logs
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRequestLogging_Levels(t *testing.T) {
	r, logs := newLoggedEngine(LoggingConfig{SlowThreshold: 10 * time.Millisecond, SkipPaths: []string{"/healthz"}})

	serve(r, "/ok")
	serve(r, "/boom")
	serve(r, "/slow")
	serve(r, "/healthz")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "/ok", ctx["path"])
	assert.Equal(t, int64(200), ctx["status"])
	assert.Equal(t, int64(4), ctx["bytes"])
	assert.NotEmpty(t, ctx["request_id"])
}

func TestRequestID_Generated(t *testing.T) {
	r, _ := newLoggedEngine(DefaultLoggingConfig())
	a := serve(r, "/ok").Header().Get(HeaderRequestID)
	b := serve(r, "/ok").Header().Get(HeaderRequestID)
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

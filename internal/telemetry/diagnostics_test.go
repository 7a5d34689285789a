package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiagnosticsServerHealth(t *testing.T) {
	s := NewDiagnosticsServer(zap.NewNop(), "127.0.0.1:0", NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/debug/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}

func TestDiagnosticsServerMetrics(t *testing.T) {
	s := NewDiagnosticsServer(zap.NewNop(), "127.0.0.1:0", NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/debug/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestDiagnosticsServerStartStop(t *testing.T) {
	s := NewDiagnosticsServer(zap.NewNop(), "127.0.0.1:0", NewMetrics())
	s.Start()
	// give the listener goroutine a moment to bind before shutting it down
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Stop(ctx)
	require.NoError(t, err)
}

package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordOperation(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.RecordOperation(ctx, "create", "ok", 10*time.Millisecond)
	m.RecordOperation(ctx, "create", "ok", 20*time.Millisecond)
	m.RecordOperation(ctx, "create", "validation", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("create", "validation")))
	assert.NoError(t, m.Close(ctx))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest(http.MethodGet, "GET /api/experiments", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `mltrackr_http_requests_total{code="200",method="GET",route="GET /api/experiments"} 1`), text)
	assert.Contains(t, text, "mltrackr_http_request_duration_seconds_bucket")
	assert.Contains(t, text, "go_goroutines")
}

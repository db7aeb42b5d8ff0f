package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(HTTPMetrics(mp.Meter("test")))
	router.POST("/vendor/invoices/:id/orders", func(c *gin.Context) { c.Status(http.StatusCreated) })

	for _, id := range []string{"a", "b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/vendor/invoices/"+id+"/orders", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	byName := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			byName[m.Name] = m
		}
	}

	total, ok := byName["http_server_request_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[string]int64{}
	for _, dp := range total.DataPoints {
		route, _ := dp.Attributes.Value("http.route")
		counts[route.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), counts["/vendor/invoices/:id/orders"])
	assert.Equal(t, int64(1), counts["unknown"])

	hist, ok := byName["http_server_request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.NotEmpty(t, hist.DataPoints)

	active, ok := byName["http_server_active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestHTTPMetrics_NilMeter(t *testing.T) {
	router := gin.New()
	router.Use(HTTPMetrics(nil))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	vendorID := uuid.New()

	router := gin.New()
	router.Use(RequestID(), Tracing(TracingConfig{ServiceName: "stallmarket-test", Enabled: true, TracerProvider: tp}))
	router.Use(func(c *gin.Context) {
		c.Set(VendorIDKey, vendorID)
		c.Next()
	})
	router.Use(TracingAttributeInjector(), SpanErrorMarker())
	router.GET("/vendor/invoices/:id", func(c *gin.Context) {
		if c.Param("id") == "broken" {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/vendor/invoices/abc", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	router.ServeHTTP(httptest.NewRecorder(), req)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/vendor/invoices/broken", nil))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Contains(t, ok.Name(), "/vendor/invoices/:id")
	v, found := spanAttr(ok, "request_id")
	require.True(t, found)
	assert.Equal(t, "req-1", v.AsString())
	v, found = spanAttr(ok, "vendor_id")
	require.True(t, found)
	assert.Equal(t, vendorID.String(), v.AsString())
	assert.NotEqual(t, codes.Error, ok.Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestTracing_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(Tracing(TracingConfig{Enabled: false}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

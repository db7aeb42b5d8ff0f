package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Perform sends a request through a gin engine. body may be nil, a []byte
// or any value that marshals to JSON.
func Perform(t *testing.T, engine http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		reader = ToJSONReader(t, b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// DecodeJSON parses a recorded response body.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result), "Failed to parse JSON response: %s", w.Body.String())
	return result
}

// AssertSuccessResponse asserts the response is a successful API response.
func AssertSuccessResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	resp := DecodeJSON(t, w)
	assert.Equal(t, true, resp["success"], "Expected success to be true")
	assert.Nil(t, resp["error"], "Expected no error")
	data, _ := resp["data"].(map[string]interface{})
	return data
}

// AssertErrorResponse asserts the response is an error API response with the code.
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, status int, expectedCode string) map[string]interface{} {
	t.Helper()

	assert.Equal(t, status, w.Code, "Unexpected status code: %s", w.Body.String())
	resp := DecodeJSON(t, w)
	assert.Equal(t, false, resp["success"], "Expected success to be false")

	errMap, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "Expected error object in response")
	assert.Equal(t, expectedCode, errMap["code"], "Unexpected error code")
	return resp
}

// ToJSONReader converts a value to a JSON io.Reader.
func ToJSONReader(t *testing.T, v interface{}) io.Reader {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err, "Failed to marshal to JSON")
	return bytes.NewReader(data)
}

// NewEngine returns a bare gin engine in test mode.
func NewEngine() *gin.Engine {
	return gin.New()
}

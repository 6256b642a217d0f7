package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instrument-service/internal/protocol"
)

func testContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-9")
	return c, w
}

func TestErrorResponse(t *testing.T) {
	c, w := testContext()
	ErrorResponse(c, http.StatusBadGateway, "Register read failed",
		fmt.Errorf("read 0x0031: %w", &protocol.DeviceError{Code: 2}))

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, body.Success)
	assert.Equal(t, "req-9", body.RequestID)
	require.NotNil(t, body.Error)
	assert.Equal(t, "DEVICE_ERROR", body.Error.Code)
	require.NotNil(t, body.Error.DeviceCode)
	assert.Equal(t, 2, *body.Error.DeviceCode)
}

func TestErrorResponse_Timeout(t *testing.T) {
	c, w := testContext()
	ErrorResponse(c, http.StatusGatewayTimeout, "Query failed", protocol.ErrReadTimeout)

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DEVICE_TIMEOUT", body.Error.Code)
	assert.Nil(t, body.Error.DeviceCode)
}

func TestValidationErrorResponse(t *testing.T) {
	c, w := testContext()
	ValidationErrorResponse(c, map[string]string{"limit": "must be a positive integer"})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]interface{})["code"])
	errs := body["data"].(map[string]interface{})["validation_errors"].(map[string]interface{})
	assert.Equal(t, "must be a positive integer", errs["limit"])
}

// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"instrument-service/internal/protocol"
	"instrument-service/internal/register"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// statusFor maps service and protocol errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInstrumentNotFound),
		errors.Is(err, service.ErrRegisterNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, driver.ErrInvalidArgument),
		errors.Is(err, driver.ErrUnknownCommand),
		errors.Is(err, register.ErrValueOutOfRange),
		errors.Is(err, protocol.ErrDatumTypeUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, service.ErrConnectFailed):
		return http.StatusServiceUnavailable
	case protocol.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrDeviceReported),
		errors.Is(err, protocol.ErrFraming),
		errors.Is(err, protocol.ErrChecksumMismatch),
		errors.Is(err, protocol.ErrIdentityMismatch),
		errors.Is(err, driver.ErrCommandFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failure sends err with the status statusFor picks
func failure(c *gin.Context, message string, err error) {
	utils.ErrorResponse(c, statusFor(err), message, err)
}

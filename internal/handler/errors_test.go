package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"instrument-service/internal/protocol"
	"instrument-service/internal/register"
	"instrument-service/internal/service"
	"instrument-service/pkg/driver"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: psu", service.ErrInstrumentNotFound), http.StatusNotFound},
		{service.ErrRegisterNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: hex", service.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: launch", driver.ErrUnknownCommand), http.StatusBadRequest},
		{driver.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("write frequency: %w", register.ErrValueOutOfRange), http.StatusBadRequest},
		{service.ErrNotSupported, http.StatusNotImplemented},
		{service.ErrNotConnected, http.StatusConflict},
		{fmt.Errorf("%w: psu: %w", service.ErrConnectFailed, protocol.ErrReadTimeout), http.StatusServiceUnavailable},
		{fmt.Errorf("query psu: %w", protocol.ErrReadTimeout), http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&protocol.DeviceError{Code: 2}, http.StatusBadGateway},
		{fmt.Errorf("%w: bad crc", protocol.ErrChecksumMismatch), http.StatusBadGateway},
		{driver.ErrCommandFailed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

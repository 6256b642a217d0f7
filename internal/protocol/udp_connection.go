// internal/protocol/udp_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
)

const defaultUDPBufferSize = 4096

// UDPConnection is a Transport over a connected UDP socket
type UDPConnection struct {
	config *UDPConfig
	conn   net.Conn
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewUDPConnection creates a new, unopened UDP connection
func NewUDPConnection(config *UDPConfig, logger *zap.Logger) *UDPConnection {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultUDPBufferSize
	}
	uc := &UDPConnection{config: config}
	uc.SetLogger(logger)
	return uc
}

// SetLogger replaces the logger, e.g. once a silent discovery attempt has
// succeeded
func (uc *UDPConnection) SetLogger(logger *zap.Logger) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.logger = logger.With(
		zap.String("protocol", "udp"),
		zap.String("address", uc.config.Address),
	)
}

// Open binds a local socket connected to the instrument address
func (uc *UDPConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", uc.config.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransportOpen, uc.config.Address, err)
	}

	uc.conn = conn
	uc.isOpen = true

	uc.logger.Debug("UDP socket opened", zap.String("local", conn.LocalAddr().String()))
	return nil
}

// Close closes the socket
func (uc *UDPConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen || uc.conn == nil {
		return nil
	}

	err := uc.conn.Close()
	uc.conn = nil
	uc.isOpen = false
	if err != nil {
		return fmt.Errorf("failed to close UDP socket: %w", err)
	}
	return nil
}

// IsOpen returns whether the socket is open
func (uc *UDPConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen && uc.conn != nil
}

// Write sends one datagram
func (uc *UDPConnection) Write(ctx context.Context, data []byte) error {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.conn == nil {
		return ErrNotAlive
	}

	if err := uc.conn.SetWriteDeadline(deadline(ctx, uc.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := uc.conn.Write(data); err != nil {
		if isNetTimeout(err) {
			return fmt.Errorf("%w after %s", ErrWriteTimeout, uc.config.WriteTimeout)
		}
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}

// Read receives one datagram. A receive timeout yields an empty slice.
func (uc *UDPConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()

	if !uc.isOpen || uc.conn == nil {
		return nil, ErrNotAlive
	}

	if maxBytes < uc.config.BufferSize {
		maxBytes = uc.config.BufferSize
	}

	if err := uc.conn.SetReadDeadline(deadline(ctx, uc.config.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buffer := make([]byte, maxBytes)
	n, err := uc.conn.Read(buffer)
	if err != nil {
		if isNetTimeout(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to receive datagram: %w", err)
	}
	return buffer[:n], nil
}

// Address returns the remote address
func (uc *UDPConnection) Address() string {
	return uc.config.Address
}

// GetProtocolType returns the protocol type
func (uc *UDPConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeUDP
}

// deadline picks the earlier of now+timeout and the context deadline
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

func isNetTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

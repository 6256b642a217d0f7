// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// TCPConnection is a Transport over a raw instrument socket (SCPI port 5025)
type TCPConnection struct {
	config *TCPConfig
	conn   net.Conn
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewTCPConnection creates a new, unopened TCP connection
func NewTCPConnection(config *TCPConfig, logger *zap.Logger) *TCPConnection {
	tc := &TCPConnection{config: config}
	tc.SetLogger(logger)
	return tc
}

// SetLogger replaces the logger, e.g. once a silent discovery attempt has
// succeeded
func (tc *TCPConnection) SetLogger(logger *zap.Logger) {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	tc.logger = logger.With(
		zap.String("protocol", "tcp"),
		zap.String("address", tc.config.Address),
	)
}

// Open dials the instrument
func (tc *TCPConnection) Open(ctx context.Context) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   tc.config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", tc.config.Address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransportOpen, tc.config.Address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		if tc.config.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
		}
	}

	tc.conn = conn
	tc.isOpen = true

	tc.logger.Debug("TCP connection opened")
	return nil
}

// Close closes the connection
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	err := tc.conn.Close()
	tc.conn = nil
	tc.isOpen = false
	if err != nil {
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}
	return nil
}

// IsOpen returns whether the connection is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes data within the write timeout
func (tc *TCPConnection) Write(ctx context.Context, data []byte) error {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.isOpen || tc.conn == nil {
		return ErrNotAlive
	}

	if err := tc.conn.SetWriteDeadline(deadline(ctx, tc.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	n, err := tc.conn.Write(data)
	if err != nil {
		if isNetTimeout(err) {
			return fmt.Errorf("%w after %s", ErrWriteTimeout, tc.config.WriteTimeout)
		}
		return fmt.Errorf("failed to write to TCP connection: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// Read reads whatever arrives before the read timeout
func (tc *TCPConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()

	if !tc.isOpen || tc.conn == nil {
		return nil, ErrNotAlive
	}

	if err := tc.conn.SetReadDeadline(deadline(ctx, tc.config.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buffer := make([]byte, maxBytes)
	n, err := tc.conn.Read(buffer)
	if err != nil {
		if isNetTimeout(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to read from TCP connection: %w", err)
	}
	return buffer[:n], nil
}

// Address returns the remote address
func (tc *TCPConnection) Address() string {
	return tc.config.Address
}

// GetProtocolType returns the protocol type
func (tc *TCPConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeTCP
}

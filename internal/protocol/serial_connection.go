// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// SerialConnection is a Transport over an RS232/RS422/RS485 port
type SerialConnection struct {
	config *SerialConfig
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool

	// writeMu serializes writes. inflight holds a write that outlived its
	// timeout; the next write waits for it.
	writeMu  sync.Mutex
	inflight chan error
}

// NewSerialConnection creates a new, unopened serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *SerialConnection {
	sc := &SerialConnection{config: config}
	sc.SetLogger(logger)
	return sc
}

// SetLogger replaces the logger, e.g. once a silent discovery attempt has
// succeeded
func (sc *SerialConnection) SetLogger(logger *zap.Logger) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.logger = logger.With(
		zap.String("protocol", "serial"),
		zap.String("port", sc.config.Port),
	)
}

// Open opens the serial port with the configured mode and read timeout
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	mode, err := serialMode(sc.config.Settings)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransportOpen, sc.config.Port, err)
	}

	sc.logger.Debug("Opening serial port",
		zap.Int("baud_rate", mode.BaudRate),
		zap.String("parity", sc.config.Parity),
	)

	port, err := serial.Open(sc.config.Port, mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransportOpen, sc.config.Port, err)
	}

	if err := port.SetReadTimeout(sc.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set read timeout: %w", ErrTransportOpen, err)
	}

	sc.port = port
	sc.isOpen = true

	sc.logger.Debug("Serial port opened")
	return nil
}

// Close closes the serial port
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false
	sc.inflight = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Debug("Serial port closed")
	return nil
}

// IsOpen returns whether the port is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data, giving up after the configured write timeout. A write
// that times out has its pending output discarded, and no later write
// starts until it has returned.
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotAlive
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	var expired <-chan time.Time
	if sc.config.WriteTimeout > 0 {
		timer := time.NewTimer(sc.config.WriteTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	if sc.inflight != nil {
		select {
		case <-sc.inflight:
			sc.inflight = nil
		case <-expired:
			return fmt.Errorf("%w: previous write still pending", ErrWriteTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	port := sc.port
	done := make(chan error, 1)
	go func() {
		n, err := port.Write(data)
		if err == nil && n != len(data) {
			err = fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write to serial port: %w", err)
		}
		return nil
	case <-expired:
		sc.abandonWrite(done)
		return fmt.Errorf("%w after %s", ErrWriteTimeout, sc.config.WriteTimeout)
	case <-ctx.Done():
		sc.abandonWrite(done)
		return ctx.Err()
	}
}

// abandonWrite parks a write that is still running and drops its output
func (sc *SerialConnection) abandonWrite(done chan error) {
	sc.inflight = done
	if err := sc.port.ResetOutputBuffer(); err != nil {
		sc.logger.Warn("Failed to discard pending output", zap.Error(err))
	}
}

// Read reads up to maxBytes. The port read timeout makes an idle line
// return an empty slice.
func (sc *SerialConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return nil, ErrNotAlive
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	buffer := make([]byte, maxBytes)

	go func() {
		n, err := sc.port.Read(buffer)
		if err != nil && !errors.Is(err, io.EOF) {
			done <- result{err: fmt.Errorf("failed to read from serial port: %w", err)}
			return
		}
		done <- result{data: buffer[:n]}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetInput discards bytes waiting in the receive buffer
func (sc *SerialConnection) ResetInput() error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotAlive
	}
	return sc.port.ResetInputBuffer()
}

// Address returns the port name
func (sc *SerialConnection) Address() string {
	return sc.config.Port
}

// GetProtocolType returns the protocol type
func (sc *SerialConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// serialMode translates transport settings into a go.bug.st/serial mode
func serialMode(s Settings) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
	}

	switch s.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity: %s", s.Parity)
	}

	switch s.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %v", s.StopBits)
	}

	return mode, nil
}

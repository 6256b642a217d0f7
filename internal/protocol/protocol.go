// internal/protocol/protocol.go
package protocol

import (
	"context"

	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// Transport is an exclusively owned byte channel to one instrument
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication. Read returns an empty slice and a nil error when
	// the read timeout expires without data.
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, maxBytes int) ([]byte, error)

	// Transport information
	Address() string
	GetProtocolType() model.ConnectionType
}

// LoggerSetter is implemented by transports whose logger can be replaced
// after creation
type LoggerSetter interface {
	SetLogger(logger *zap.Logger)
}

// InputFlusher is implemented by transports that can discard unread input
type InputFlusher interface {
	ResetInput() error
}

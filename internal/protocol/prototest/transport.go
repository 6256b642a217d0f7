// internal/protocol/prototest/transport.go

// Package prototest provides an in-memory Transport for tests.
package prototest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
)

// Write is one recorded write
type Write struct {
	Data []byte
	At   time.Time
}

// Responder returns the bytes the fake device sends back after data was
// written. Returning nil simulates silence (a read timeout).
type Responder func(data []byte) []byte

// Transport is a scripted protocol.Transport
type Transport struct {
	mu sync.Mutex

	address string
	kind    model.ConnectionType
	respond Responder
	open    bool
	pending []byte
	packets [][]byte
	writes  []Write
	opens   int
	closes  int
	logger  *zap.Logger

	// OpenErr fails Open when set.
	OpenErr error
	// WriteErr and ReadErr fail every write or read when set.
	WriteErr error
	ReadErr  error
	// ChunkSize splits replies across reads when positive.
	ChunkSize int
	// Datagrams keeps every reply a separate read, like a UDP socket.
	Datagrams bool
}

var _ protocol.Transport = (*Transport)(nil)

// New creates a closed fake transport answering with respond
func New(address string, respond Responder) *Transport {
	return &Transport{address: address, kind: model.ConnectionTypeSerial, respond: respond}
}

// Opened creates a fake transport that is already open
func Opened(address string, respond Responder) *Transport {
	t := New(address, respond)
	t.open = true
	return t
}

// Table answers each written byte string with the mapped reply
func Table(replies map[string][]byte) Responder {
	return func(data []byte) []byte {
		return replies[string(data)]
	}
}

// TextTable answers ASCII commands with ASCII replies
func TextTable(replies map[string]string) Responder {
	return func(data []byte) []byte {
		reply, ok := replies[string(data)]
		if !ok {
			return nil
		}
		return []byte(reply)
	}
}

// SetResponder replaces the responder
func (t *Transport) SetResponder(r Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.respond = r
}

// SetKind changes the reported connection type
func (t *Transport) SetKind(kind model.ConnectionType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kind = kind
}

// Queue appends unsolicited bytes to the receive buffer
func (t *Transport) Queue(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enqueue(b)
}

func (t *Transport) enqueue(b []byte) {
	if len(b) == 0 {
		return
	}
	if t.Datagrams {
		t.packets = append(t.packets, append([]byte(nil), b...))
		return
	}
	t.pending = append(t.pending, b...)
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.OpenErr != nil {
		return t.OpenErr
	}
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.closes++
	}
	t.open = false
	t.pending = nil
	t.packets = nil
	return nil
}

// SetLogger records the logger the transport was handed
func (t *Transport) SetLogger(logger *zap.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

// Logger returns the last logger passed to SetLogger
func (t *Transport) Logger() *zap.Logger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logger
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return protocol.ErrNotAlive
	}
	if t.WriteErr != nil {
		return t.WriteErr
	}

	cp := append([]byte(nil), data...)
	t.writes = append(t.writes, Write{Data: cp, At: time.Now()})
	if t.respond != nil {
		t.enqueue(t.respond(cp))
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil, protocol.ErrNotAlive
	}
	if t.ReadErr != nil {
		return nil, t.ReadErr
	}
	if t.Datagrams {
		if len(t.packets) == 0 {
			return []byte{}, nil
		}
		pkt := t.packets[0]
		t.packets = t.packets[1:]
		if maxBytes > 0 && len(pkt) > maxBytes {
			pkt = pkt[:maxBytes]
		}
		return pkt, nil
	}
	if len(t.pending) == 0 {
		return []byte{}, nil
	}

	n := len(t.pending)
	if maxBytes > 0 && n > maxBytes {
		n = maxBytes
	}
	if t.ChunkSize > 0 && n > t.ChunkSize {
		n = t.ChunkSize
	}
	out := append([]byte(nil), t.pending[:n]...)
	t.pending = t.pending[n:]
	return out, nil
}

// ResetInput drops pending input
func (t *Transport) ResetInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	t.packets = nil
	return nil
}

func (t *Transport) Address() string {
	return t.address
}

func (t *Transport) GetProtocolType() model.ConnectionType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind
}

// Writes returns every recorded write
func (t *Transport) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Write, len(t.writes))
	copy(out, t.writes)
	return out
}

// Written returns the recorded write payloads as strings
func (t *Transport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	for i, w := range t.writes {
		out[i] = string(w.Data)
	}
	return out
}

// Opens returns how many times Open was called
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

// Closes returns how many times an open transport was closed
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

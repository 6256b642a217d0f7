// internal/protocol/engine.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeoutPolicy selects how a timeout is reported to the caller
type TimeoutPolicy int

const (
	// WarnAndContinue logs the timeout and reports ok == false.
	WarnAndContinue TimeoutPolicy = iota
	// Raise returns the timeout error so the caller can tell an absent
	// device from a slow one.
	Raise
)

func (p TimeoutPolicy) String() string {
	if p == Raise {
		return "raise"
	}
	return "warn_and_continue"
}

const defaultMaxReply = 4096

// Modbus RTU inter-frame timing.
const (
	ModbusBitsPerChar  = 11
	ModbusSilentChars  = 3.5
	ModbusSilentFloor  = 1750 * time.Microsecond
	defaultChunkLength = 256
)

// SilentPeriod returns max(floor, bitsPerChar * minChars / baud).
func SilentPeriod(baud int, bitsPerChar, minChars float64, floor time.Duration) time.Duration {
	if baud <= 0 {
		return floor
	}
	d := time.Duration(bitsPerChar * minChars / float64(baud) * float64(time.Second))
	if d < floor {
		return floor
	}
	return d
}

// ModbusSilentPeriod is the 3.5 character silence of Modbus RTU at baud.
func ModbusSilentPeriod(baud int) time.Duration {
	return SilentPeriod(baud, ModbusBitsPerChar, ModbusSilentChars, ModbusSilentFloor)
}

// EngineStats are running transaction counters
type EngineStats struct {
	Transactions   int64         `json:"transactions"`
	Timeouts       int64         `json:"timeouts"`
	Failures       int64         `json:"failures"`
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Engine executes write and query transactions over one transport.
// Transactions are not serialized here; callers own that.
type Engine struct {
	transport    Transport
	codec        Codec
	logger       *zap.Logger
	silentPeriod time.Duration
	maxReply     int
	onFault      func(error)
	lastEnd      time.Time

	statsMu sync.Mutex
	stats   EngineStats
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithSilentPeriod enforces a minimum idle time between transactions.
func WithSilentPeriod(d time.Duration) EngineOption {
	return func(e *Engine) { e.silentPeriod = d }
}

// WithFaultHandler is called with unrecoverable transport errors.
func WithFaultHandler(fn func(error)) EngineOption {
	return func(e *Engine) { e.onFault = fn }
}

// WithMaxReply caps the number of bytes accepted for one reply.
func WithMaxReply(n int) EngineOption {
	return func(e *Engine) { e.maxReply = n }
}

// NewEngine creates an engine on an opened transport
func NewEngine(transport Transport, codec Codec, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		transport: transport,
		codec:     codec,
		maxReply:  defaultMaxReply,
	}
	e.SetLogger(logger)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transport returns the underlying transport
func (e *Engine) Transport() Transport {
	return e.transport
}

// Codec returns the framing codec
func (e *Engine) Codec() Codec {
	return e.codec
}

// SilentPeriod returns the enforced inter-transaction gap
func (e *Engine) SilentPeriod() time.Duration {
	return e.silentPeriod
}

// SetLogger replaces the logger of the engine and of its transport, e.g.
// once a silent discovery attempt has succeeded
func (e *Engine) SetLogger(logger *zap.Logger) {
	e.logger = logger.With(
		zap.String("component", "transaction"),
		zap.String("address", e.transport.Address()),
	)
	if ls, ok := e.transport.(LoggerSetter); ok {
		ls.SetLogger(logger)
	}
}

// Stats returns a copy of the transaction counters
func (e *Engine) Stats() EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Write encodes and sends msg without reading a reply.
func (e *Engine) Write(ctx context.Context, msg []byte, policy TimeoutPolicy) (bool, error) {
	start := time.Now()
	err := e.send(ctx, msg)
	e.lastEnd = time.Now()
	e.record(start, len(msg), 0, err)
	return e.settle("write", msg, err, policy)
}

// Query sends f and returns the decoded reply. Failures are logged and
// reported as ok == false; only a timeout under Raise returns an error.
func (e *Engine) Query(ctx context.Context, f Frame, policy TimeoutPolicy) ([]byte, bool, error) {
	reply, err := e.Transact(ctx, f)
	ok, err := e.settle("query", f.Payload, err, policy)
	if !ok {
		return nil, false, err
	}
	return reply, true, nil
}

// WriteString sends an ASCII command
func (e *Engine) WriteString(ctx context.Context, cmd string, policy TimeoutPolicy) (bool, error) {
	return e.Write(ctx, []byte(cmd), policy)
}

// QueryString sends an ASCII command and returns the reply as text
func (e *Engine) QueryString(ctx context.Context, cmd string, policy TimeoutPolicy) (string, bool, error) {
	reply, ok, err := e.Query(ctx, Text(cmd), policy)
	if !ok {
		return "", false, err
	}
	return string(reply), true, nil
}

// Transact is the strict form of Query: every failure is returned as a
// classified error.
func (e *Engine) Transact(ctx context.Context, f Frame) ([]byte, error) {
	start := time.Now()
	if err := e.send(ctx, f.Payload); err != nil {
		e.lastEnd = time.Now()
		e.record(start, len(f.Payload), 0, err)
		return nil, err
	}

	reply, n, err := e.receive(ctx, f.Expect)
	e.record(start, len(f.Payload), n, err)
	return reply, err
}

// Receive reads and decodes one reply without sending anything first.
func (e *Engine) Receive(ctx context.Context, expect int) ([]byte, error) {
	reply, _, err := e.receive(ctx, expect)
	return reply, err
}

// Flush discards unread input when the transport supports it
func (e *Engine) Flush() error {
	if f, ok := e.transport.(InputFlusher); ok {
		return f.ResetInput()
	}
	return nil
}

func (e *Engine) send(ctx context.Context, msg []byte) error {
	if !e.transport.IsOpen() {
		return ErrNotAlive
	}

	wire, err := e.codec.Encode(msg)
	if err != nil {
		return err
	}

	if err := e.waitSilent(ctx); err != nil {
		return err
	}

	if err := e.transport.Write(ctx, wire); err != nil {
		e.fault(ctx, err)
		return err
	}
	return nil
}

func (e *Engine) receive(ctx context.Context, expect int) ([]byte, int, error) {
	defer func() { e.lastEnd = time.Now() }()

	if !e.transport.IsOpen() {
		return nil, 0, ErrNotAlive
	}

	var buf []byte
	for !e.codec.Complete(buf, expect) {
		chunk, err := e.transport.Read(ctx, e.chunkSize(len(buf), expect))
		if err != nil {
			e.fault(ctx, err)
			return nil, len(buf), err
		}
		if len(chunk) == 0 {
			break
		}
		buf = append(buf, chunk...)
		if len(buf) > e.maxReply {
			return nil, len(buf), framingError("reply exceeds %d bytes", e.maxReply)
		}
	}

	if len(buf) == 0 {
		return nil, 0, ErrReadTimeout
	}

	reply, err := e.codec.Decode(buf, expect)
	return reply, len(buf), err
}

func (e *Engine) chunkSize(have, expect int) int {
	if expect > have {
		return expect - have
	}
	return defaultChunkLength
}

// waitSilent blocks until the silent period since the last transaction
// has elapsed
func (e *Engine) waitSilent(ctx context.Context) error {
	if e.silentPeriod <= 0 || e.lastEnd.IsZero() {
		return nil
	}
	wait := e.silentPeriod - time.Since(e.lastEnd)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fault reports transport errors that are neither timeouts nor
// cancellation
func (e *Engine) fault(ctx context.Context, err error) {
	if IsTimeout(err) || errors.Is(err, ErrNotAlive) || ctx.Err() != nil {
		return
	}
	e.logger.Error("Transport fault", zap.Error(err))
	if e.onFault != nil {
		e.onFault(err)
	}
}

// settle applies the timeout policy and logs the failure
func (e *Engine) settle(op string, msg []byte, err error, policy TimeoutPolicy) (bool, error) {
	if err == nil {
		return true, nil
	}

	if IsTimeout(err) {
		if policy == Raise {
			return false, err
		}
		e.logger.Warn("Transaction timed out",
			zap.String("operation", op),
			zap.String("message", printable(msg)),
			zap.Error(err),
		)
		return false, nil
	}

	var devErr *DeviceError
	switch {
	case errors.As(err, &devErr):
		e.logger.Warn("Device reported an error",
			zap.String("operation", op),
			zap.String("message", printable(msg)),
			zap.Int("code", devErr.Code),
			zap.String("reason", devErr.Message),
		)
	case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrFraming):
		e.logger.Warn("Reply discarded",
			zap.String("operation", op),
			zap.String("message", printable(msg)),
			zap.Error(err),
		)
	default:
		e.logger.Error("Transaction failed",
			zap.String("operation", op),
			zap.String("message", printable(msg)),
			zap.Error(err),
		)
	}
	return false, nil
}

func (e *Engine) record(start time.Time, written, read int, err error) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.stats.Transactions++
	e.stats.LastActivity = time.Now()
	if err != nil {
		if IsTimeout(err) {
			e.stats.Timeouts++
		} else {
			e.stats.Failures++
		}
	}
	e.stats.BytesWritten += int64(written)
	e.stats.BytesRead += int64(read)

	latency := time.Since(start)
	if e.stats.AverageLatency == 0 {
		e.stats.AverageLatency = latency
	} else {
		e.stats.AverageLatency = (e.stats.AverageLatency + latency) / 2
	}
}

// printable renders a message for logs
func printable(msg []byte) string {
	for _, b := range msg {
		if b < 0x20 && b != '\r' && b != '\n' && b != '\t' || b > 0x7E {
			return fmt.Sprintf("% X", msg)
		}
	}
	return fmt.Sprintf("%q", msg)
}

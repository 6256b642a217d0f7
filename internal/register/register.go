// internal/register/register.go
package register

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"instrument-service/internal/protocol"
)

// Modbus function codes used by the register client
const (
	FuncReadHoldingRegisters = 0x03
	FuncWriteSingleRegister  = 0x06
)

// ErrValueOutOfRange is returned when a write value does not fit the
// register's datum type.
var ErrValueOutOfRange = errors.New("value out of range")

// DatumType is the wire width and signedness of a register value
type DatumType int

const (
	U08 DatumType = iota
	U16
	U32
	S08
	S16
	B0 // 8-bit bitmap
	B1 // 16-bit bitmap
	B2 // 32-bit bitmap
)

var datumTypeNames = map[DatumType]string{
	U08: "U08",
	U16: "U16",
	U32: "U32",
	S08: "S08",
	S16: "S16",
	B0:  "B0",
	B1:  "B1",
	B2:  "B2",
}

func (t DatumType) String() string {
	if name, ok := datumTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("DatumType(%d)", int(t))
}

// ParseDatumType accepts the names printed by String
func ParseDatumType(name string) (DatumType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range datumTypeNames {
		if n == upper {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", protocol.ErrDatumTypeUnsupported, name)
}

// Points is the number of 16-bit registers the value occupies
func (t DatumType) Points() int {
	if t == U32 || t == B2 {
		return 2
	}
	return 1
}

// Width is the number of data bytes in a read reply
func (t DatumType) Width() int {
	return t.Points() * 2
}

// Bits is the declared value width
func (t DatumType) Bits() int {
	switch t {
	case U08, S08, B0:
		return 8
	case U32, B2:
		return 32
	default:
		return 16
	}
}

// Signed reports whether the value is two's complement
func (t DatumType) Signed() bool {
	return t == S08 || t == S16
}

// Writable reports whether function code 0x06 can write the type
func (t DatumType) Writable() bool {
	return t == U08 || t == U16
}

// Register is an addressable, typed device value.
type Register struct {
	Name    string    `json:"name"`
	Address uint16    `json:"address"`
	Type    DatumType `json:"type"`
	// ReportedByteCount overrides the byte count the device is known to put
	// in its read reply. The data that follows is still Type.Width() bytes.
	ReportedByteCount uint8 `json:"reported_byte_count,omitempty"`
}

func (r Register) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s(0x%04X)", r.Name, r.Address)
	}
	return fmt.Sprintf("0x%04X", r.Address)
}

func (r Register) byteCount() int {
	if r.ReportedByteCount != 0 {
		return int(r.ReportedByteCount)
	}
	return r.Type.Width()
}

// replyLength is unit + function + byte count + data + CRC
func (r Register) replyLength() int {
	return 3 + r.Type.Width() + 2
}

// Decode interprets big-endian register data as the register's type
func (t DatumType) Decode(data []byte) int64 {
	var raw uint64
	for _, b := range data {
		raw = raw<<8 | uint64(b)
	}

	// only signed types are narrowed to their declared width
	if !t.Signed() {
		return int64(raw)
	}
	bits := uint(t.Bits())
	raw &= 1<<bits - 1
	if raw&(1<<(bits-1)) != 0 {
		return int64(raw) - int64(1)<<bits
	}
	return int64(raw)
}

// Client reads and writes typed registers of one Modbus unit through a
// transaction engine built with protocol.ModbusRTUCodec.
type Client struct {
	engine *protocol.Engine
	unit   byte
	logger *zap.Logger
}

// NewClient creates a register client for unit
func NewClient(engine *protocol.Engine, unit byte, logger *zap.Logger) *Client {
	return &Client{
		engine: engine,
		unit:   unit,
		logger: logger.With(zap.String("component", "register"), zap.Uint8("unit", unit)),
	}
}

// ReadFrame builds the function 0x03 request for r
func (c *Client) ReadFrame(r Register) protocol.Frame {
	f := protocol.Bytes(c.unit, FuncReadHoldingRegisters,
		byte(r.Address>>8), byte(r.Address),
		0x00, byte(r.Type.Points()))
	if r.ReportedByteCount != 0 {
		// The reply length cannot be derived from the byte count field.
		f.Expect = r.replyLength()
	}
	return f
}

// WriteFrame builds the function 0x06 request for r
func (c *Client) WriteFrame(r Register, value uint16) protocol.Frame {
	return protocol.Bytes(c.unit, FuncWriteSingleRegister,
		byte(r.Address>>8), byte(r.Address),
		byte(value>>8), byte(value))
}

// ReadValue reads r and returns every failure as an error.
func (c *Client) ReadValue(ctx context.Context, r Register) (int64, error) {
	pdu, err := c.engine.Transact(ctx, c.ReadFrame(r))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r, err)
	}
	return c.parseRead(r, pdu)
}

// WriteValue writes value to r and returns the value the device echoed.
func (c *Client) WriteValue(ctx context.Context, r Register, value int64) (int64, error) {
	if !r.Type.Writable() {
		return 0, fmt.Errorf("write %s as %s: %w", r, r.Type, protocol.ErrDatumTypeUnsupported)
	}
	if value < 0 || value >= 1<<uint(r.Type.Bits()) {
		return 0, fmt.Errorf("write %s: %d for %s: %w", r, value, r.Type, ErrValueOutOfRange)
	}

	pdu, err := c.engine.Transact(ctx, c.WriteFrame(r, uint16(value)))
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", r, err)
	}
	return c.parseWrite(r, pdu)
}

// Read is the failure-tolerant form of ReadValue. Failures are logged and
// reported as ok == false.
func (c *Client) Read(ctx context.Context, r Register) (int64, bool) {
	v, err := c.ReadValue(ctx, r)
	if err != nil {
		c.logFailure("read", r, err)
		return 0, false
	}
	return v, true
}

// Write is the failure-tolerant form of WriteValue
func (c *Client) Write(ctx context.Context, r Register, value int64) (int64, bool) {
	v, err := c.WriteValue(ctx, r, value)
	if err != nil {
		c.logFailure("write", r, err)
		return 0, false
	}
	return v, true
}

// ReadAll reads every register even when some fail. Values holds the
// registers that were read; ok is true only when all of them were.
func (c *Client) ReadAll(ctx context.Context, regs ...Register) (map[string]int64, bool) {
	values := make(map[string]int64, len(regs))
	ok := true
	for _, r := range regs {
		v, good := c.Read(ctx, r)
		if good {
			values[r.Name] = v
		}
		ok = good && ok
	}
	return values, ok
}

// All runs every step in order and reports whether all succeeded. A failed
// step does not stop the ones after it.
func All(steps ...func() bool) bool {
	ok := true
	for _, step := range steps {
		ok = step() && ok
	}
	return ok
}

func (c *Client) parseRead(r Register, pdu []byte) (int64, error) {
	if err := c.checkHeader(pdu, FuncReadHoldingRegisters); err != nil {
		return 0, fmt.Errorf("read %s: %w", r, err)
	}
	if len(pdu) < 3 {
		return 0, fmt.Errorf("read %s: %w: no byte count", r, protocol.ErrFraming)
	}

	count := int(pdu[2])
	if count != r.byteCount() {
		return 0, fmt.Errorf("read %s: %w: byte count %d, expected %d",
			r, protocol.ErrFraming, count, r.byteCount())
	}
	data := pdu[3:]
	if len(data) != r.Type.Width() {
		return 0, fmt.Errorf("read %s: %w: %d data bytes, expected %d",
			r, protocol.ErrFraming, len(data), r.Type.Width())
	}
	return r.Type.Decode(data), nil
}

func (c *Client) parseWrite(r Register, pdu []byte) (int64, error) {
	if err := c.checkHeader(pdu, FuncWriteSingleRegister); err != nil {
		return 0, fmt.Errorf("write %s: %w", r, err)
	}
	if len(pdu) != 6 {
		return 0, fmt.Errorf("write %s: %w: echo is %d bytes", r, protocol.ErrFraming, len(pdu))
	}
	if addr := binary.BigEndian.Uint16(pdu[2:4]); addr != r.Address {
		return 0, fmt.Errorf("write %s: %w: echoed address 0x%04X", r, protocol.ErrFraming, addr)
	}
	return int64(binary.BigEndian.Uint16(pdu[4:6])), nil
}

func (c *Client) checkHeader(pdu []byte, function byte) error {
	if len(pdu) < 2 {
		return fmt.Errorf("%w: reply too short", protocol.ErrFraming)
	}
	if pdu[0] != c.unit {
		return fmt.Errorf("%w: reply from unit 0x%02X", protocol.ErrFraming, pdu[0])
	}
	if pdu[1] != function {
		return fmt.Errorf("%w: function 0x%02X, expected 0x%02X", protocol.ErrFraming, pdu[1], function)
	}
	return nil
}

func (c *Client) logFailure(op string, r Register, err error) {
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("register", r.String()),
		zap.Stringer("datum_type", r.Type),
		zap.Error(err),
	}
	switch {
	case protocol.IsTimeout(err),
		errors.Is(err, protocol.ErrDeviceReported),
		errors.Is(err, protocol.ErrFraming),
		errors.Is(err, protocol.ErrChecksumMismatch),
		errors.Is(err, protocol.ErrDatumTypeUnsupported),
		errors.Is(err, ErrValueOutOfRange):
		c.logger.Warn("Register transaction failed", fields...)
	default:
		c.logger.Error("Register transaction failed", fields...)
	}
}

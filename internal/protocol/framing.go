// internal/protocol/framing.go
package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"instrument-service/internal/checksum"
)

// Frame is one outgoing message. Expect is the exact wire length of the
// reply when known; zero leaves completion to the codec.
type Frame struct {
	Payload []byte
	Expect  int
}

// Text builds a frame from an ASCII command
func Text(cmd string) Frame {
	return Frame{Payload: []byte(cmd)}
}

// Bytes builds a frame from raw payload bytes
func Bytes(b ...byte) Frame {
	return Frame{Payload: b}
}

// Codec turns logical messages into wire bytes and validates replies
type Codec interface {
	// Encode returns the wire bytes for msg.
	Encode(msg []byte) ([]byte, error)
	// Complete reports whether buf holds a whole reply.
	Complete(buf []byte, expect int) bool
	// Decode validates a received reply and returns its logical content.
	Decode(reply []byte, expect int) ([]byte, error)
}

// Framing names the codec families
type Framing string

const (
	FramingASCII     Framing = "ascii"
	FramingBinary    Framing = "binary"
	FramingModbusRTU Framing = "modbus_rtu"
)

// CodecConfig selects and parameterises a codec from configuration. Empty
// ASCII terminators fall back to the transport settings.
type CodecConfig struct {
	Framing         Framing `mapstructure:"framing"`
	ReadTerminator  string  `mapstructure:"read_terminator"`
	WriteTerminator string  `mapstructure:"write_terminator"`
	Raw             bool    `mapstructure:"raw"`
	Start           []byte  `mapstructure:"start"`
	LengthOffset    int     `mapstructure:"length_offset"`
	Checksum        string  `mapstructure:"checksum"`
	ChecksumFrom    int     `mapstructure:"checksum_from"`
}

// NewCodec builds the codec described by cfg
func NewCodec(cfg CodecConfig) (Codec, error) {
	switch cfg.Framing {
	case FramingASCII, "":
		return &ASCIICodec{
			ReadTerminator:  cfg.ReadTerminator,
			WriteTerminator: cfg.WriteTerminator,
			Raw:             cfg.Raw,
		}, nil
	case FramingBinary:
		kind, err := checksum.ParseKind(cfg.Checksum)
		if err != nil {
			return nil, err
		}
		if cfg.LengthOffset < len(cfg.Start) {
			return nil, fmt.Errorf("length offset %d overlaps the %d byte start marker", cfg.LengthOffset, len(cfg.Start))
		}
		if cfg.ChecksumFrom < 0 || cfg.ChecksumFrom > cfg.LengthOffset {
			return nil, fmt.Errorf("checksum start %d must lie within the header, 0 to %d", cfg.ChecksumFrom, cfg.LengthOffset)
		}
		return &BinaryCodec{
			Start:        cfg.Start,
			LengthOffset: cfg.LengthOffset,
			Checksum:     kind,
			ChecksumFrom: cfg.ChecksumFrom,
		}, nil
	case FramingModbusRTU:
		return ModbusRTUCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported framing: %s", cfg.Framing)
	}
}

// ASCIICodec frames terminator-delimited text lines
type ASCIICodec struct {
	ReadTerminator  string
	WriteTerminator string
	// Raw returns replies byte for byte instead of trimmed text.
	Raw bool
}

// Encode appends the write terminator
func (c *ASCIICodec) Encode(msg []byte) ([]byte, error) {
	out := make([]byte, 0, len(msg)+len(c.WriteTerminator))
	out = append(out, msg...)
	return append(out, c.WriteTerminator...), nil
}

// Complete waits for the read terminator, the expected length, or any data
// when no terminator is configured
func (c *ASCIICodec) Complete(buf []byte, expect int) bool {
	if expect > 0 {
		return len(buf) >= expect
	}
	if c.ReadTerminator == "" {
		return len(buf) > 0
	}
	return bytes.Contains(buf, []byte(c.ReadTerminator))
}

// Decode cuts the reply at the read terminator and trims whitespace
func (c *ASCIICodec) Decode(reply []byte, expect int) ([]byte, error) {
	if c.Raw {
		return reply, nil
	}
	if !utf8.Valid(reply) {
		return nil, framingError("reply is not valid UTF-8: % X", reply)
	}

	text := string(reply)
	if c.ReadTerminator != "" {
		if i := strings.Index(text, c.ReadTerminator); i >= 0 {
			text = text[:i]
		}
	}
	return []byte(strings.TrimSpace(text)), nil
}

// NACKRule describes an in-band negative acknowledgement
type NACKRule struct {
	// Offset of the byte that carries Marker on a NACK reply.
	Offset int
	Marker byte
	// CodeOffset of the error code byte within a NACK reply.
	CodeOffset int
	Messages   map[int]string
}

// BinaryCodec frames binary messages with a constant start marker, a
// length byte at a fixed offset, the payload and a trailing checksum.
// Decode returns the payload that follows the length byte.
type BinaryCodec struct {
	Start        []byte
	LengthOffset int
	Checksum     checksum.Kind
	// ChecksumFrom is the first byte covered by the checksum.
	ChecksumFrom int
	NACK         *NACKRule
}

// Encode prefixes the start marker and appends the checksum trailer
func (c *BinaryCodec) Encode(msg []byte) ([]byte, error) {
	frame := make([]byte, 0, len(c.Start)+len(msg)+c.Checksum.Size())
	frame = append(frame, c.Start...)
	frame = append(frame, msg...)

	if c.LengthOffset >= len(frame) {
		return nil, framingError("message too short for length byte at offset %d", c.LengthOffset)
	}
	if want := c.LengthOffset + 1 + int(frame[c.LengthOffset]); want != len(frame) {
		return nil, framingError("length byte announces %d payload bytes, message carries %d",
			frame[c.LengthOffset], len(frame)-c.LengthOffset-1)
	}

	if c.ChecksumFrom < 0 || c.ChecksumFrom > len(frame) {
		return nil, framingError("checksum start %d is outside the %d byte frame", c.ChecksumFrom, len(frame))
	}
	return append(frame, c.Checksum.Trailer(frame[c.ChecksumFrom:])...), nil
}

// Complete uses the length byte to know when the whole frame has arrived
func (c *BinaryCodec) Complete(buf []byte, expect int) bool {
	if expect > 0 {
		return len(buf) >= expect
	}
	if len(buf) <= c.LengthOffset {
		return false
	}
	return len(buf) >= c.frameLength(buf)
}

func (c *BinaryCodec) frameLength(buf []byte) int {
	return c.LengthOffset + 1 + int(buf[c.LengthOffset]) + c.Checksum.Size()
}

// Decode checks markers, length and checksum, then any NACK
func (c *BinaryCodec) Decode(reply []byte, expect int) ([]byte, error) {
	if len(reply) <= c.LengthOffset {
		return nil, framingError("reply too short: % X", reply)
	}
	if !bytes.HasPrefix(reply, c.Start) {
		return nil, framingError("reply has no start marker: % X", reply)
	}
	if n := c.frameLength(reply); n != len(reply) {
		return nil, framingError("reply is %d bytes, length byte implies %d", len(reply), n)
	}
	if c.ChecksumFrom < 0 || c.ChecksumFrom > len(reply) {
		return nil, framingError("checksum start %d is outside the %d byte reply", c.ChecksumFrom, len(reply))
	}
	if !c.Checksum.Verify(reply[c.ChecksumFrom:]) {
		return nil, fmt.Errorf("%w: % X", ErrChecksumMismatch, reply)
	}

	if c.NACK != nil && c.NACK.Offset < len(reply) && reply[c.NACK.Offset] == c.NACK.Marker {
		code := -1
		if c.NACK.CodeOffset < len(reply)-c.Checksum.Size() {
			code = int(reply[c.NACK.CodeOffset])
		}
		return nil, &DeviceError{Code: code, Message: c.NACK.Messages[code]}
	}

	start := c.LengthOffset + 1
	return reply[start : len(reply)-c.Checksum.Size()], nil
}

// modbusExceptions names the standard Modbus exception codes
var modbusExceptions = map[int]string{
	0x01: "illegal function",
	0x02: "illegal data address",
	0x03: "illegal data value",
	0x04: "slave device failure",
	0x05: "acknowledge",
	0x06: "slave device busy",
	0x08: "memory parity error",
	0x0A: "gateway path unavailable",
	0x0B: "gateway target device failed to respond",
}

// ModbusRTUCodec frames Modbus RTU PDUs with a little-endian CRC16 trailer.
// Decode strips the CRC and returns unit id, function code and data.
type ModbusRTUCodec struct{}

// Encode appends the CRC
func (ModbusRTUCodec) Encode(msg []byte) ([]byte, error) {
	if len(msg) < 2 {
		return nil, framingError("modbus request needs unit id and function code")
	}
	return checksum.AppendCRC16(append([]byte(nil), msg...)), nil
}

// Complete knows the reply length of exception replies, the read and write
// function codes, or uses expect
func (ModbusRTUCodec) Complete(buf []byte, expect int) bool {
	if len(buf) < 2 {
		return false
	}
	if buf[1]&0x80 != 0 {
		return len(buf) >= 5
	}
	if expect > 0 {
		return len(buf) >= expect
	}
	switch buf[1] {
	case 0x01, 0x02, 0x03, 0x04:
		return len(buf) >= 3 && len(buf) >= 5+int(buf[2])
	case 0x05, 0x06, 0x0F, 0x10:
		return len(buf) >= 8
	}
	return false
}

// Decode verifies the CRC and converts exception replies to DeviceError
func (ModbusRTUCodec) Decode(reply []byte, expect int) ([]byte, error) {
	if len(reply) < 5 {
		return nil, framingError("modbus reply too short: % X", reply)
	}
	if !checksum.VerifyCRC16(reply) {
		return nil, fmt.Errorf("%w: % X", ErrChecksumMismatch, reply)
	}
	if reply[1]&0x80 != 0 {
		code := int(reply[2])
		msg, ok := modbusExceptions[code]
		if !ok {
			msg = "unknown exception"
		}
		return nil, &DeviceError{Code: code, Message: fmt.Sprintf("function 0x%02X: %s", reply[1]&0x7F, msg)}
	}
	if expect > 0 && len(reply) != expect {
		return nil, framingError("modbus reply is %d bytes, expected %d", len(reply), expect)
	}
	return reply[:len(reply)-2], nil
}

// internal/checksum/checksum.go
package checksum

import "fmt"

// crc16ModbusInit is the starting register value for CRC16/Modbus.
const crc16ModbusInit uint16 = 0xFFFF

// crc16ModbusPoly is the reflected form of polynomial 0x8005.
const crc16ModbusPoly uint16 = 0xA001

// Kind selects the trailer a binary frame carries.
type Kind int

const (
	None Kind = iota
	Sum1
	CRC16
)

// String returns the configuration name of the checksum kind
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Sum1:
		return "checksum1"
	case CRC16:
		return "crc16"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind parses a configuration name into a Kind
func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "none":
		return None, nil
	case "checksum1", "sum1":
		return Sum1, nil
	case "crc16", "crc16_modbus":
		return CRC16, nil
	default:
		return None, fmt.Errorf("unsupported checksum kind: %s", name)
	}
}

// Size returns the number of trailer bytes appended by the kind.
func (k Kind) Size() int {
	switch k {
	case Sum1:
		return 1
	case CRC16:
		return 2
	default:
		return 0
	}
}

// Append appends the trailer computed over b.
func (k Kind) Append(b []byte) []byte {
	switch k {
	case Sum1:
		return append(b, Checksum1(b))
	case CRC16:
		return AppendCRC16(b)
	default:
		return b
	}
}

// Trailer returns the trailer bytes for b without modifying b.
func (k Kind) Trailer(b []byte) []byte {
	switch k {
	case Sum1:
		return []byte{Checksum1(b)}
	case CRC16:
		lo, hi := CRC16Modbus(b)
		return []byte{lo, hi}
	default:
		return nil
	}
}

// Verify reports whether frame ends with a valid trailer for its leading bytes.
func (k Kind) Verify(frame []byte) bool {
	switch k {
	case Sum1:
		if len(frame) < 1 {
			return false
		}
		return VerifyChecksum1(frame[:len(frame)-1], frame[len(frame)-1])
	case CRC16:
		return VerifyCRC16(frame)
	default:
		return true
	}
}

// Checksum1 returns the inverted one-byte sum: (sum(b) mod 256) xor 0xFF.
// Callers pass the frame without its leader byte.
func Checksum1(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum ^ 0xFF
}

// VerifyChecksum1 reports whether sum is the Checksum1 of b.
func VerifyChecksum1(b []byte, sum byte) bool {
	return Checksum1(b) == sum
}

// CRC16Modbus computes the Modbus CRC over b and returns it in wire order.
func CRC16Modbus(b []byte) (lo, hi byte) {
	crc := crc16(b)
	return byte(crc), byte(crc >> 8)
}

// AppendCRC16 appends the Modbus CRC of b, low byte first.
func AppendCRC16(b []byte) []byte {
	lo, hi := CRC16Modbus(b)
	return append(b, lo, hi)
}

// VerifyCRC16 checks a frame that ends with its own CRC. Running the CRC over
// data followed by its CRC yields zero.
func VerifyCRC16(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	return crc16(frame) == 0
}

func crc16(b []byte) uint16 {
	crc := crc16ModbusInit
	for _, v := range b {
		crc ^= uint16(v)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crc16ModbusPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

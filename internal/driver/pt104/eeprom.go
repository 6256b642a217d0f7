// internal/driver/pt104/eeprom.go
package pt104

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const eepromPrefix = "Eeprom="

// Eeprom is the factory data of a PT-104
type Eeprom struct {
	Serial          string    `json:"serial"`
	CalibrationDate string    `json:"calibration_date"`
	Calibration     [4]uint32 `json:"calibration"`
	MAC             string    `json:"mac"`
	Checksum        string    `json:"checksum,omitempty"`
}

// ParseEeprom decodes the reply to the EEPROM request
func ParseEeprom(reply []byte) (Eeprom, error) {
	if !bytes.HasPrefix(reply, []byte(eepromPrefix)) {
		return Eeprom{}, fmt.Errorf("eeprom reply has no %q prefix", eepromPrefix)
	}
	b := reply[len(eepromPrefix):]
	if len(b) < 59 {
		return Eeprom{}, fmt.Errorf("eeprom reply holds %d bytes, need 59", len(b))
	}

	e := Eeprom{
		Serial:          strings.TrimRight(string(b[19:29]), "\x00 "),
		CalibrationDate: strings.TrimRight(string(b[29:37]), "\x00 "),
	}
	for ch := 0; ch < 4; ch++ {
		off := 37 + 4*ch
		e.Calibration[ch] = binary.LittleEndian.Uint32(b[off : off+4])
	}

	mac := make([]string, 0, 6)
	for _, octet := range b[53:59] {
		mac = append(mac, fmt.Sprintf("%02x", octet))
	}
	e.MAC = strings.Join(mac, ":")

	if len(b) >= 128 {
		e.Checksum = fmt.Sprintf("0x%02x 0x%02x", b[126], b[127])
	}
	return e, nil
}

// Resistance limits of a valid PT100 or PT1000 reading
var (
	minResistance = decimal.NewFromInt(18)
	maxResistance = decimal.NewFromInt(3760)
)

// Measurement is one decoded channel packet
type Measurement struct {
	Channel int
	Counts  [4]uint32
}

// ParseMeasurement decodes a channel packet. The first byte is 4 times
// the zero based channel; four big-endian counts follow at a five byte
// pitch.
func ParseMeasurement(pkt []byte) (Measurement, bool) {
	if len(pkt) < 20 || pkt[0]%4 != 0 || pkt[0] > 12 {
		return Measurement{}, false
	}
	m := Measurement{Channel: int(pkt[0])/4 + 1}
	for i := 0; i < 4; i++ {
		off := 1 + 5*i
		m.Counts[i] = binary.BigEndian.Uint32(pkt[off : off+4])
	}
	return m, true
}

// Resistance converts the counts of a four-wire measurement into Ohm
// using the channel calibration. ok is false when the reference counts
// are equal or the result is outside the PT100/PT1000 range.
func (m Measurement) Resistance(calibration uint32) (decimal.Decimal, bool) {
	a0 := int64(m.Counts[0])
	a1 := int64(m.Counts[1])
	a2 := int64(m.Counts[2])
	a3 := int64(m.Counts[3])
	if a1 == a0 {
		return decimal.Zero, false
	}

	r := decimal.NewFromInt(int64(calibration)).
		Mul(decimal.NewFromInt(a3 - a2)).
		Div(decimal.NewFromInt(a1 - a0)).
		Shift(-6)
	if r.LessThan(minResistance) || r.GreaterThan(maxResistance) {
		return r, false
	}
	return r, true
}

// internal/driver/thermoflex/status.go
package thermoflex

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Unit is the unit of measure index of a reading's qualifier byte
type Unit int

const (
	UnitNone Unit = iota
	UnitDegC
	UnitDegF
	UnitLPM
	UnitGPM
	UnitSeconds
	UnitPSI
	UnitBar
	UnitMOhmCm
	UnitPercent
	UnitVolt
	UnitKPa
)

var unitNames = map[Unit]string{
	UnitNone:    "",
	UnitDegC:    "degC",
	UnitDegF:    "degF",
	UnitLPM:     "LPM",
	UnitGPM:     "GPM",
	UnitSeconds: "s",
	UnitPSI:     "PSI",
	UnitBar:     "bar",
	UnitMOhmCm:  "MOhm.cm",
	UnitPercent: "%",
	UnitVolt:    "V",
	UnitKPa:     "kPa",
}

func (u Unit) String() string {
	if name, ok := unitNames[u]; ok {
		return name
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// maxPrecision is the largest number of decimals a qualifier can announce
const maxPrecision = 4

// ParseReading decodes the data bytes of a value reply. The high nibble of
// the qualifier byte is the number of decimals, the low nibble the unit.
// The value bytes that follow are an unsigned big-endian integer.
func ParseReading(data []byte) (decimal.Decimal, Unit, error) {
	if len(data) < 2 {
		return decimal.Zero, UnitNone, fmt.Errorf("reading needs a qualifier and a value, got % X", data)
	}
	precision := int32(data[0] >> 4)
	unit := Unit(data[0] & 0x0F)
	if precision > maxPrecision {
		return decimal.Zero, unit, fmt.Errorf("precision %d out of range", precision)
	}

	var raw int64
	for _, b := range data[1:] {
		raw = raw<<8 | int64(b)
	}
	return decimal.New(raw, -precision), unit, nil
}

// EncodeSetpoint converts degrees Celsius to the two data bytes of the set
// setpoint command, in steps of 0.1 degC
func EncodeSetpoint(degC float64) (hi, lo byte) {
	raw := decimal.NewFromFloat(degC).Shift(1).Round(0).IntPart()
	return byte(raw >> 8), byte(raw)
}

// StatusBits holds the faults and warnings of the status query
type StatusBits struct {
	Running                  bool `json:"running"`
	RTD1Open                 bool `json:"rtd1_open"`
	RTD2Open                 bool `json:"rtd2_open"`
	RTD3Open                 bool `json:"rtd3_open"`
	HighTempFixedFault       bool `json:"high_temp_fixed_fault"`
	LowTempFixedFault        bool `json:"low_temp_fixed_fault"`
	HighTempFault            bool `json:"high_temp_fault"`
	LowTempFault             bool `json:"low_temp_fault"`
	HighPressureFault        bool `json:"high_pressure_fault"`
	LowPressureFault         bool `json:"low_pressure_fault"`
	DripPanFault             bool `json:"drip_pan_fault"`
	HighLevelFault           bool `json:"high_level_fault"`
	PhaseMonitorFault        bool `json:"phase_monitor_fault"`
	MotorOverloadFault       bool `json:"motor_overload_fault"`
	LPCFault                 bool `json:"lpc_fault"`
	HPCFault                 bool `json:"hpc_fault"`
	ExternalEMOFault         bool `json:"external_emo_fault"`
	LocalEMOFault            bool `json:"local_emo_fault"`
	LowFlowFault             bool `json:"low_flow_fault"`
	LowLevelFault            bool `json:"low_level_fault"`
	Sense5VFault             bool `json:"sense_5v_fault"`
	InvalidLevelFault        bool `json:"invalid_level_fault"`
	LowFixedFlowWarning      bool `json:"low_fixed_flow_warning"`
	HighPressureFaultFactory bool `json:"high_pressure_fault_factory"`
	LowPressureFaultFactory  bool `json:"low_pressure_fault_factory"`
	PoweringUp               bool `json:"powering_up"`
	PoweringDown             bool `json:"powering_down"`
	FaultTripped             bool `json:"fault_tripped"`
}

// DecodeStatusBits splits the four status bytes
func DecodeStatusBits(data []byte) (StatusBits, error) {
	if len(data) < 4 {
		return StatusBits{}, fmt.Errorf("status needs 4 bytes, got % X", data)
	}
	d1, d2, d3, d4 := data[0], data[1], data[2], data[3]
	bit := func(b byte, n uint) bool { return b&(1<<n) != 0 }

	s := StatusBits{
		LowTempFault:       bit(d1, 7),
		HighTempFault:      bit(d1, 6),
		LowTempFixedFault:  bit(d1, 5),
		HighTempFixedFault: bit(d1, 4),
		RTD3Open:           bit(d1, 3),
		RTD2Open:           bit(d1, 2),
		RTD1Open:           bit(d1, 1),
		Running:            bit(d1, 0),

		HPCFault:           bit(d2, 7),
		LPCFault:           bit(d2, 6),
		MotorOverloadFault: bit(d2, 5),
		PhaseMonitorFault:  bit(d2, 4),
		HighLevelFault:     bit(d2, 3),
		DripPanFault:       bit(d2, 2),
		LowPressureFault:   bit(d2, 1),
		HighPressureFault:  bit(d2, 0),

		HighPressureFaultFactory: bit(d3, 7),
		LowFixedFlowWarning:      bit(d3, 6),
		InvalidLevelFault:        bit(d3, 5),
		Sense5VFault:             bit(d3, 4),
		LowLevelFault:            bit(d3, 3),
		LowFlowFault:             bit(d3, 2),
		LocalEMOFault:            bit(d3, 1),
		ExternalEMOFault:         bit(d3, 0),

		PoweringDown:            bit(d4, 2),
		PoweringUp:              bit(d4, 1),
		LowPressureFaultFactory: bit(d4, 0),
	}
	s.FaultTripped = s.HighTempFixedFault || s.LowTempFixedFault ||
		s.HighTempFault || s.LowTempFault ||
		d2 != 0 || d3 != 0 || s.LowPressureFaultFactory
	return s, nil
}

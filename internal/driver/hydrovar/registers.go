// internal/driver/hydrovar/registers.go
package hydrovar

import "instrument-service/internal/register"

// Register map of the Hydrovar HVL inverter. Pressures are bar * 100,
// frequencies Hz * 10 and currents A * 100.
var (
	RegStopStart    = register.Register{Name: "STOP_START", Address: 0x0031, Type: register.U08}
	RegActualValue  = register.Register{Name: "ACTUAL_VALUE", Address: 0x0032, Type: register.S16}
	RegOutputFreq   = register.Register{Name: "OUTPUT_FREQ", Address: 0x0033, Type: register.S16}
	RegEffReqVal    = register.Register{Name: "EFF_REQ_VAL", Address: 0x0037, Type: register.U16}
	RegStartValue   = register.Register{Name: "START_VALUE", Address: 0x0038, Type: register.U08}
	RegEnableDevice = register.Register{Name: "ENABLE_DEVICE", Address: 0x0061, Type: register.U08}
	RegTempInverter = register.Register{Name: "TEMP_INVERTER", Address: 0x0085, Type: register.S08}
	RegCurrInverter = register.Register{Name: "CURR_INVERTER", Address: 0x0087, Type: register.U16}
	RegVoltInverter = register.Register{Name: "VOLT_INVERTER", Address: 0x0088, Type: register.U16}
	RegMode         = register.Register{Name: "MODE", Address: 0x008B, Type: register.U08}
	RegMaxFreq      = register.Register{Name: "MAX_FREQ", Address: 0x009D, Type: register.U16}
	RegMinFreq      = register.Register{Name: "MIN_FREQ", Address: 0x009E, Type: register.U16}
	RegErrorReset   = register.Register{Name: "ERROR_RESET", Address: 0x00D3, Type: register.U08}
	RegCReqVal1     = register.Register{Name: "C_REQ_VAL_1", Address: 0x00E5, Type: register.U08}
	RegCReqVal2     = register.Register{Name: "C_REQ_VAL_2", Address: 0x00E6, Type: register.U08}
	RegSwReqVal     = register.Register{Name: "SW_REQ_VAL", Address: 0x00E7, Type: register.U08}
	RegReqVal1      = register.Register{Name: "REQ_VAL_1", Address: 0x00E8, Type: register.U16}
	RegActuatFreq1  = register.Register{Name: "ACTUAT_FREQ_1", Address: 0x00EA, Type: register.U16}
	RegTestRun      = register.Register{Name: "TEST_RUN", Address: 0x00F9, Type: register.U08}
	RegAddress      = register.Register{Name: "ADDRESS", Address: 0x010D, Type: register.U08}
	RegErrorsH3     = register.Register{Name: "ERRORS_H3", Address: 0x012D, Type: register.B2}
	RegDevStatusH4  = register.Register{Name: "DEV_STATUS_H4", Address: 0x01C1, Type: register.B1}
	RegMotorNomCurr = register.Register{Name: "MOTOR_NOM_CURR", Address: 0x011A, Type: register.U32, ReportedByteCount: 8}
)

// Registers lists the whole map in address order
var Registers = []register.Register{
	RegStopStart, RegActualValue, RegOutputFreq, RegEffReqVal, RegStartValue,
	RegEnableDevice, RegTempInverter, RegCurrInverter, RegVoltInverter, RegMode,
	RegMaxFreq, RegMinFreq, RegErrorReset, RegCReqVal1, RegCReqVal2, RegSwReqVal,
	RegReqVal1, RegActuatFreq1, RegTestRun, RegAddress, RegMotorNomCurr,
	RegErrorsH3, RegDevStatusH4,
}

// Mode is the HVL operating mode (P105)
type Mode int64

const (
	ModeController Mode = iota
	ModeCascadeRelay
	ModeCascadeSerial
	ModeActuator
	ModeCascadeSynchron
)

func (m Mode) String() string {
	switch m {
	case ModeController:
		return "CONTROLLER"
	case ModeCascadeRelay:
		return "CASCADE_RELAY"
	case ModeCascadeSerial:
		return "CASCADE_SERIAL"
	case ModeActuator:
		return "ACTUATOR"
	case ModeCascadeSynchron:
		return "CASCADE_SYNCHRON"
	default:
		return "UNKNOWN"
	}
}

// ParseMode maps a mode name onto a Mode
func ParseMode(name string) (Mode, bool) {
	for m := ModeController; m <= ModeCascadeSynchron; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return 0, false
}

// ErrorStatus decodes the H3 error register. Bits 0 to 11 carry the
// inverter errors 11 to 26.
type ErrorStatus struct {
	Raw              uint16 `json:"raw"`
	Overcurrent      bool   `json:"overcurrent"`
	Overload         bool   `json:"overload"`
	Overvoltage      bool   `json:"overvoltage"`
	PhaseLoss        bool   `json:"phase_loss"`
	InverterOverheat bool   `json:"inverter_overheat"`
	MotorOverheat    bool   `json:"motor_overheat"`
	LackOfWater      bool   `json:"lack_of_water"`
	MinimumThreshold bool   `json:"minimum_threshold"`
	ActValSensor1    bool   `json:"act_val_sensor_1"`
	ActValSensor2    bool   `json:"act_val_sensor_2"`
	Setpoint1LowMA   bool   `json:"setpoint_1_low_mA"`
	Setpoint2LowMA   bool   `json:"setpoint_2_low_mA"`
}

// DecodeErrorStatus splits the H3 bit field
func DecodeErrorStatus(v int64) ErrorStatus {
	bit := func(n uint) bool { return v&(1<<n) != 0 }
	return ErrorStatus{
		Raw:              uint16(v),
		Overcurrent:      bit(0),
		Overload:         bit(1),
		Overvoltage:      bit(2),
		PhaseLoss:        bit(3),
		InverterOverheat: bit(4),
		MotorOverheat:    bit(5),
		LackOfWater:      bit(6),
		MinimumThreshold: bit(7),
		ActValSensor1:    bit(8),
		ActValSensor2:    bit(9),
		Setpoint1LowMA:   bit(10),
		Setpoint2LowMA:   bit(11),
	}
}

// HasErrors reports whether any error bit is set
func (s ErrorStatus) HasErrors() bool {
	return s.Raw&0x0FFF != 0
}

// DeviceStatus decodes the H4 status register
type DeviceStatus struct {
	Raw                          uint16 `json:"raw"`
	Preset                       bool   `json:"preset"`
	ReadyForRegulation           bool   `json:"ready_for_regulation"`
	HasError                     bool   `json:"has_error"`
	HasWarning                   bool   `json:"has_warning"`
	ExternalOnOffTerminalEnabled bool   `json:"external_on_off_terminal_enabled"`
	EnabledWithStartButton       bool   `json:"enabled_with_start_button"`
	MotorIsRunning               bool   `json:"motor_is_running"`
	SoloRunOnOff                 bool   `json:"solo_run_on_off"`
	InverterStopStart            bool   `json:"inverter_stop_start"`
}

// DecodeDeviceStatus splits the H4 bit field
func DecodeDeviceStatus(v int64) DeviceStatus {
	bit := func(n uint) bool { return v&(1<<n) != 0 }
	return DeviceStatus{
		Raw:                          uint16(v),
		Preset:                       bit(0),
		ReadyForRegulation:           bit(1),
		HasError:                     bit(2),
		HasWarning:                   bit(3),
		ExternalOnOffTerminalEnabled: bit(4),
		EnabledWithStartButton:       bit(5),
		MotorIsRunning:               bit(6),
		SoloRunOnOff:                 bit(14),
		InverterStopStart:            bit(15),
	}
}

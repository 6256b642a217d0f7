// internal/driver/hydrovar/hydrovar.go
package hydrovar

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/register"
	"instrument-service/pkg/driver"
)

// DriverName is the registry key of this driver
const DriverName = "hydrovar"

const (
	defaultUnit        = 0x01
	defaultMaxPressure = 3.0 // bar
	maxADU             = 256 // largest Modbus RTU frame
)

// State is the last known pump state. Fields stay unavailable until read.
type State struct {
	Mode                model.Optional[Mode]    `json:"mode"`
	PumpIsOn            model.Optional[bool]    `json:"pump_is_on"`
	PumpIsRunning       model.Optional[bool]    `json:"pump_is_running"`
	PumpIsEnabled       model.Optional[bool]    `json:"pump_is_enabled"`
	ActualPressure      model.Optional[float64] `json:"actual_pressure_bar"`
	WantedPressure      model.Optional[float64] `json:"wanted_pressure_bar"`
	ActualFrequency     model.Optional[float64] `json:"actual_frequency_hz"`
	WantedFrequency     model.Optional[float64] `json:"wanted_frequency_hz"`
	MinFrequency        model.Optional[float64] `json:"min_frequency_hz"`
	MaxFrequency        model.Optional[float64] `json:"max_frequency_hz"`
	NominalMotorCurrent model.Optional[float64] `json:"nominal_motor_current_a"`
	InverterTemp        model.Optional[float64] `json:"inverter_temp_degc"`
	InverterVolt        model.Optional[float64] `json:"inverter_volt_v"`
	InverterCurr        model.Optional[float64] `json:"inverter_curr_a"`
	InverterCurrPct     model.Optional[float64] `json:"inverter_curr_pct"`
}

// Snapshot is what State returns
type Snapshot struct {
	State        State                        `json:"state"`
	DeviceStatus model.Optional[DeviceStatus] `json:"device_status"`
	ErrorStatus  model.Optional[ErrorStatus]  `json:"error_status"`
}

// Driver controls one Hydrovar HVL pump inverter over Modbus RTU
type Driver struct {
	*driver.Base

	unit        byte
	maxPressure float64

	client      *register.Client
	clientFor   *protocol.Engine
	state       State
	devStatus   model.Optional[DeviceStatus]
	errorStatus model.Optional[ErrorStatus]
}

var (
	_ driver.RegisterDriver = (*Driver)(nil)
	_ driver.CommandDriver  = (*Driver)(nil)
)

// New creates a Hydrovar driver. Options: unit (Modbus slave address) and
// max_pressure_bar.
func New(cfg *config.InstrumentConfig, deps driver.Deps) (driver.InstrumentDriver, error) {
	unit := byte(driver.OptionInt(cfg.Options, "unit", defaultUnit))
	d := &Driver{
		unit:        unit,
		maxPressure: driver.OptionFloat(cfg.Options, "max_pressure_bar", defaultMaxPressure),
	}

	connType, err := protocol.ParseConnectionType(cfg.Connection)
	if err != nil {
		return nil, err
	}
	settings := driver.ResolveSettings(*cfg, deps, connType, protocol.Settings{
		BaudRate:     115200,
		Parity:       "none",
		DataBits:     8,
		StopBits:     1,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
	})

	base, err := driver.NewBase(*cfg, deps, driver.InstrumentInfo{
		Manufacturer:   "Xylem",
		Model:          "Hydrovar HVL",
		InstrumentType: model.InstrumentTypePump,
	}, driver.SessionSpec{
		Settings:     settings,
		Codec:        protocol.ModbusRTUCodec{},
		SilentPeriod: protocol.ModbusSilentPeriod(settings.BaudRate),
		Identity: &discovery.Identity{
			Query:    identityQuery(unit),
			Broad:    true,
			Specific: int64(unit),
		},
		MaxReply: maxADU,
	})
	if err != nil {
		return nil, err
	}
	d.Base = base
	return d, nil
}

// identityQuery reads the slave address register (P1205)
func identityQuery(unit byte) discovery.IdentityQuery {
	return func(ctx context.Context, engine *protocol.Engine) (interface{}, interface{}, error) {
		v, err := register.NewClient(engine, unit, zap.NewNop()).ReadValue(ctx, RegAddress)
		if err != nil {
			return nil, nil, err
		}
		return true, v, nil
	}
}

// RegisterClient returns the register client of the current connection
func (d *Driver) RegisterClient() *register.Client {
	engine := d.Engine()
	if engine == nil {
		return nil
	}
	if d.client == nil || d.clientFor != engine {
		d.client = register.NewClient(engine, d.unit, d.Logger())
		d.clientFor = engine
	}
	return d.client
}

// Registers returns the register map
func (d *Driver) Registers() []register.Register {
	return Registers
}

// State returns a snapshot of the pump state
func (d *Driver) State() interface{} {
	return Snapshot{State: d.state, DeviceStatus: d.devStatus, ErrorStatus: d.errorStatus}
}

func (d *Driver) read(ctx context.Context, r register.Register) (int64, bool) {
	c := d.RegisterClient()
	if c == nil {
		return 0, false
	}
	return c.Read(ctx, r)
}

func (d *Driver) write(ctx context.Context, r register.Register, v int64) (int64, bool) {
	c := d.RegisterClient()
	if c == nil {
		return 0, false
	}
	return c.Write(ctx, r, v)
}

// Begin stops the pump, reads the limits and puts the inverter into
// digital setpoint control
func (d *Driver) Begin(ctx context.Context) bool {
	return register.All(
		func() bool { return d.PumpStop(ctx) },
		func() bool { return d.EnablePressurePID(ctx) },
		func() bool { return d.ReadMode(ctx) },
		func() bool { return d.ReadMinFrequency(ctx) },
		func() bool { return d.ReadMaxFrequency(ctx) },
		func() bool { return d.ReadNominalMotorCurrent(ctx) },
		func() bool { return d.UseDigitalRequiredValue1(ctx) },
		func() bool { return d.SetTestRun(ctx, 0) },
		func() bool { return d.SetStartValue(ctx, 100) },
		func() bool { return d.SetWantedPressure(ctx, 0) },
		func() bool { return d.SetWantedFrequency(ctx, d.state.MinFrequency.OrElse(0)) },
		func() bool { return d.ReadDeviceStatus(ctx) },
		func() bool { return d.ReadErrorStatus(ctx) },
	)
}

// Poll reads the process values, status registers and diagnostics
func (d *Driver) Poll(ctx context.Context) bool {
	return register.All(
		func() bool { return d.ReadActualPressure(ctx) },
		func() bool { return d.ReadActualFrequency(ctx) },
		func() bool { return d.ReadDeviceStatus(ctx) },
		func() bool { return d.ReadErrorStatus(ctx) },
		func() bool { return d.ReadInverterDiagnostics(ctx) },
	)
}

// ReadMode reads the HVL operating mode
func (d *Driver) ReadMode(ctx context.Context) bool {
	v, ok := d.read(ctx, RegMode)
	if ok {
		d.state.Mode.Set(Mode(v))
	}
	return ok
}

// SetMode writes the HVL operating mode
func (d *Driver) SetMode(ctx context.Context, m Mode) bool {
	v, ok := d.write(ctx, RegMode, int64(m))
	if ok {
		d.state.Mode.Set(Mode(v))
	}
	return ok
}

// PumpStart switches the inverter on
func (d *Driver) PumpStart(ctx context.Context) bool {
	return d.setStopStart(ctx, 1)
}

// PumpStop switches the inverter off
func (d *Driver) PumpStop(ctx context.Context) bool {
	return d.setStopStart(ctx, 0)
}

func (d *Driver) setStopStart(ctx context.Context, v int64) bool {
	echo, ok := d.write(ctx, RegStopStart, v)
	if ok {
		d.state.PumpIsOn.Set(echo != 0)
		d.Logger().Info("Pump switched", zap.Bool("on", echo != 0))
	}
	return ok
}

// EnablePressurePID enables the internal pressure controller (P24). Only
// effective in controller mode.
func (d *Driver) EnablePressurePID(ctx context.Context) bool {
	_, ok := d.write(ctx, RegEnableDevice, 1)
	return ok
}

// DisablePressurePID disables the internal pressure controller
func (d *Driver) DisablePressurePID(ctx context.Context) bool {
	_, ok := d.write(ctx, RegEnableDevice, 0)
	return ok
}

// ReadActualPressure reads the measured pressure
func (d *Driver) ReadActualPressure(ctx context.Context) bool {
	v, ok := d.read(ctx, RegActualValue)
	if ok {
		d.state.ActualPressure.Set(float64(v) / 100)
	}
	return ok
}

// SetWantedPressure writes the digital required value 1, clamped to
// [0, max_pressure_bar]
func (d *Driver) SetWantedPressure(ctx context.Context, bar float64) bool {
	bar = math.Max(bar, 0)
	bar = math.Min(bar, d.maxPressure)
	v, ok := d.write(ctx, RegReqVal1, int64(bar*100))
	if ok {
		d.state.WantedPressure.Set(float64(v) / 100)
	}
	return ok
}

// ReadWantedPressure reads the digital required value 1
func (d *Driver) ReadWantedPressure(ctx context.Context) bool {
	v, ok := d.read(ctx, RegReqVal1)
	if ok {
		d.state.WantedPressure.Set(float64(v) / 100)
	}
	return ok
}

// ReadMinFrequency reads P250
func (d *Driver) ReadMinFrequency(ctx context.Context) bool {
	v, ok := d.read(ctx, RegMinFreq)
	if ok {
		d.state.MinFrequency.Set(float64(v) / 10)
	}
	return ok
}

// ReadMaxFrequency reads P245
func (d *Driver) ReadMaxFrequency(ctx context.Context) bool {
	v, ok := d.read(ctx, RegMaxFreq)
	if ok {
		d.state.MaxFrequency.Set(float64(v) / 10)
	}
	return ok
}

// ReadNominalMotorCurrent reads P268
func (d *Driver) ReadNominalMotorCurrent(ctx context.Context) bool {
	v, ok := d.read(ctx, RegMotorNomCurr)
	if ok {
		d.state.NominalMotorCurrent.Set(float64(v) / 100)
	}
	return ok
}

// ReadActualFrequency reads the inverter output frequency
func (d *Driver) ReadActualFrequency(ctx context.Context) bool {
	v, ok := d.read(ctx, RegOutputFreq)
	if ok {
		d.state.ActualFrequency.Set(float64(v) / 10)
	}
	return ok
}

// SetWantedFrequency writes the actuator frequency 1 (P830), clamped to
// the frequency limits read so far
func (d *Driver) SetWantedFrequency(ctx context.Context, hz float64) bool {
	if max, ok := d.state.MaxFrequency.Get(); ok {
		hz = math.Min(hz, max)
	}
	if min, ok := d.state.MinFrequency.Get(); ok {
		hz = math.Max(hz, min)
	}
	hz = math.Max(hz, 0)

	v, ok := d.write(ctx, RegActuatFreq1, int64(math.Round(hz*10)))
	if ok {
		d.state.WantedFrequency.Set(float64(v) / 10)
	}
	return ok
}

// ReadWantedFrequency reads P830
func (d *Driver) ReadWantedFrequency(ctx context.Context) bool {
	v, ok := d.read(ctx, RegActuatFreq1)
	if ok {
		d.state.WantedFrequency.Set(float64(v) / 10)
	}
	return ok
}

// SetStartValue writes P04 in percent of the required value. 100 turns
// the restart threshold off.
func (d *Driver) SetStartValue(ctx context.Context, pct float64) bool {
	pct = math.Min(math.Max(pct, 0), 100)
	_, ok := d.write(ctx, RegStartValue, int64(pct))
	return ok
}

// SetErrorReset selects automatic error reset (P615)
func (d *Driver) SetErrorReset(ctx context.Context, enable bool) bool {
	var v int64
	if enable {
		v = 1
	}
	_, ok := d.write(ctx, RegErrorReset, v)
	return ok
}

// SetTestRun sets the automatic test run interval (P1005) in hours
func (d *Driver) SetTestRun(ctx context.Context, hours int64) bool {
	if hours < 0 {
		hours = 0
	}
	if hours > 100 {
		hours = 100
	}
	_, ok := d.write(ctx, RegTestRun, hours)
	return ok
}

// UseDigitalRequiredValue1 selects the digital required value 1 and turns
// required value 2 off (P805, P810, P815)
func (d *Driver) UseDigitalRequiredValue1(ctx context.Context) bool {
	return register.All(
		func() bool { _, ok := d.write(ctx, RegCReqVal1, 1); return ok },
		func() bool { _, ok := d.write(ctx, RegCReqVal2, 0); return ok },
		func() bool { _, ok := d.write(ctx, RegSwReqVal, 0); return ok },
	)
}

// ReadErrorStatus reads the H3 error register
func (d *Driver) ReadErrorStatus(ctx context.Context) bool {
	v, ok := d.read(ctx, RegErrorsH3)
	if ok {
		status := DecodeErrorStatus(v)
		d.errorStatus.Set(status)
		if status.HasErrors() {
			d.Logger().Warn("Inverter reports errors", zap.Uint16("h3", status.Raw))
		}
	}
	return ok
}

// ReadDeviceStatus reads the H4 status register and updates the pump flags
func (d *Driver) ReadDeviceStatus(ctx context.Context) bool {
	v, ok := d.read(ctx, RegDevStatusH4)
	if ok {
		status := DecodeDeviceStatus(v)
		d.devStatus.Set(status)
		d.state.PumpIsOn.Set(status.EnabledWithStartButton)
		d.state.PumpIsRunning.Set(status.MotorIsRunning)
		d.state.PumpIsEnabled.Set(status.ExternalOnOffTerminalEnabled)
	}
	return ok
}

// ReadInverterDiagnostics reads temperature, voltage and current (P43 to
// P45). The current percentage needs the nominal motor current.
func (d *Driver) ReadInverterDiagnostics(ctx context.Context) bool {
	c := d.RegisterClient()
	if c == nil {
		return false
	}

	values, ok := c.ReadAll(ctx, RegTempInverter, RegVoltInverter, RegCurrInverter)
	if v, found := values[RegTempInverter.Name]; found {
		d.state.InverterTemp.Set(float64(v))
	}
	if v, found := values[RegVoltInverter.Name]; found {
		d.state.InverterVolt.Set(float64(v))
	}
	if v, found := values[RegCurrInverter.Name]; found {
		amps := float64(v) / 100
		d.state.InverterCurr.Set(amps)
		if nominal, known := d.state.NominalMotorCurrent.Get(); known && nominal > 0 {
			d.state.InverterCurrPct.Set(amps / nominal * 100)
		} else {
			d.state.InverterCurrPct.Clear()
		}
	}
	return ok
}

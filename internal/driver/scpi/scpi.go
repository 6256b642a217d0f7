// internal/driver/scpi/scpi.go
package scpi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/pkg/driver"
)

// DriverName is the registry key of this driver
const DriverName = "scpi"

const defaultErrorCommand = "SYST:ERR?"

// State holds the last known readings. The source and protection fields
// are only read for power supplies.
type State struct {
	VoltageSource model.Optional[float64]            `json:"voltage_source_v"`
	CurrentSource model.Optional[float64]            `json:"current_source_a"`
	VoltageMeas   model.Optional[float64]            `json:"voltage_meas_v"`
	CurrentMeas   model.Optional[float64]            `json:"current_meas_a"`
	PowerMeas     model.Optional[float64]            `json:"power_meas_w"`
	OVPLevel      model.Optional[float64]            `json:"ovp_level_v"`
	OCPEnabled    model.Optional[bool]               `json:"ocp_enabled"`
	OutputEnabled model.Optional[bool]               `json:"output_enabled"`
	Questionable  model.Optional[QuestionableStatus] `json:"questionable"`
	Operation     model.Optional[OperationStatus]    `json:"operation"`
}

// Snapshot is what State returns
type Snapshot struct {
	Identity Identity `json:"identity"`
	State    State    `json:"state"`
	Errors   []string `json:"errors"`
}

// Driver talks SCPI to a bench instrument over serial, TCP or USBTMC. With
// the power_supply option it also drives the source subsystem.
type Driver struct {
	*driver.Base

	psu      bool
	idn      Identity
	state    State
	errQueue *protocol.ErrorQueue
}

var (
	_ driver.CommandDriver    = (*Driver)(nil)
	_ driver.ErrorQueueDriver = (*Driver)(nil)
)

// New creates an SCPI driver. Options: model (substring the *IDN? model
// must contain), power_supply (default true) and error_command. The
// instrument identity, when configured, must match the serial number.
func New(cfg *config.InstrumentConfig, deps driver.Deps) (driver.InstrumentDriver, error) {
	d := &Driver{
		psu:      optionBool(cfg.Options, "power_supply", true),
		errQueue: protocol.NewErrorQueue(driver.OptionString(cfg.Options, "error_command", defaultErrorCommand), protocol.SCPINoError),
	}

	connType, err := protocol.ParseConnectionType(cfg.Connection)
	if err != nil {
		return nil, err
	}
	settings := driver.ResolveSettings(*cfg, deps, connType, protocol.Settings{
		ReadTerminator:  "\n",
		WriteTerminator: "\n",
		ReadTimeout:     4 * time.Second,
		WriteTimeout:    4 * time.Second,
	})

	identity := &discovery.Identity{
		Query: d.identityQuery(driver.OptionString(cfg.Options, "model", "")),
		Broad: true,
	}
	if cfg.Identity != "" {
		identity.Specific = cfg.Identity
	}

	instrumentType := model.InstrumentTypeGeneric
	if d.psu {
		instrumentType = model.InstrumentTypePowerSupply
	}
	codec, err := newCodec(cfg.Codec, settings)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", cfg.Name, err)
	}
	base, err := driver.NewBase(*cfg, deps, driver.InstrumentInfo{
		InstrumentType: instrumentType,
	}, driver.SessionSpec{
		Settings: settings,
		Codec:    codec,
		Identity: identity,
	})
	if err != nil {
		return nil, err
	}
	d.Base = base
	return d, nil
}

// newCodec builds the configured codec, or line framing on the transport
// terminators when none is configured
func newCodec(cfg *protocol.CodecConfig, settings protocol.Settings) (protocol.Codec, error) {
	if cfg == nil {
		return &protocol.ASCIICodec{ReadTerminator: settings.ReadTerminator, WriteTerminator: settings.WriteTerminator}, nil
	}
	c := *cfg
	if c.Framing == "" || c.Framing == protocol.FramingASCII {
		if c.ReadTerminator == "" {
			c.ReadTerminator = settings.ReadTerminator
		}
		if c.WriteTerminator == "" {
			c.WriteTerminator = settings.WriteTerminator
		}
	}
	return protocol.NewCodec(c)
}

func optionBool(opts map[string]interface{}, name string, def bool) bool {
	if v, ok := opts[name].(bool); ok {
		return v
	}
	return def
}

// identityQuery asks *IDN?. Broad is true when the reply names a
// manufacturer and, if wanted is set, a model containing it. Specific is
// the serial number.
func (d *Driver) identityQuery(wanted string) discovery.IdentityQuery {
	return func(ctx context.Context, engine *protocol.Engine) (interface{}, interface{}, error) {
		reply, err := engine.Transact(ctx, protocol.Text("*IDN?"))
		if err != nil {
			return nil, nil, err
		}
		idn := ParseIdentity(string(reply))
		broad := idn.Manufacturer != "" &&
			(wanted == "" || strings.Contains(strings.ToUpper(idn.Model), strings.ToUpper(wanted)))
		if broad {
			d.idn = idn
		}
		return broad, idn.Serial, nil
	}
}

// Info adds the identity read at connect time
func (d *Driver) Info() *driver.InstrumentInfo {
	info := d.Base.Info()
	info.Manufacturer = d.idn.Manufacturer
	info.Model = d.idn.Model
	return info
}

// State returns a snapshot of the readings and pending errors
func (d *Driver) State() interface{} {
	return Snapshot{Identity: d.idn, State: d.state, Errors: d.errQueue.Entries()}
}

// Write sends a command without reading a reply
func (d *Driver) Write(ctx context.Context, cmd string) bool {
	engine := d.Engine()
	if engine == nil {
		return false
	}
	ok, _ := engine.WriteString(ctx, cmd, protocol.WarnAndContinue)
	return ok
}

// Query sends a query and returns the trimmed reply
func (d *Driver) Query(ctx context.Context, cmd string) (string, bool) {
	engine := d.Engine()
	if engine == nil {
		return "", false
	}
	reply, ok, _ := engine.QueryString(ctx, cmd, protocol.WarnAndContinue)
	return reply, ok
}

func (d *Driver) queryFloat(ctx context.Context, cmd string, target *model.Optional[float64]) bool {
	reply, ok := d.Query(ctx, cmd)
	if ok {
		v, err := ParseNumber(reply)
		if err == nil {
			target.Set(v.InexactFloat64())
			return true
		}
		d.Logger().Warn("Malformed reply", zap.String("command", cmd), zap.Error(err))
	}
	target.Clear()
	return false
}

func (d *Driver) queryBool(ctx context.Context, cmd string, target *model.Optional[bool]) bool {
	reply, ok := d.Query(ctx, cmd)
	if ok {
		v, err := ParseBool(reply)
		if err == nil {
			target.Set(v)
			return true
		}
		d.Logger().Warn("Malformed reply", zap.String("command", cmd), zap.Error(err))
	}
	target.Clear()
	return false
}

func (d *Driver) queryRegister(ctx context.Context, cmd string) (uint16, bool) {
	reply, ok := d.Query(ctx, cmd)
	if !ok {
		return 0, false
	}
	v, err := ParseRegister(reply)
	if err != nil {
		d.Logger().Warn("Malformed reply", zap.String("command", cmd), zap.Error(err))
		return 0, false
	}
	return v, true
}

// WaitForOPC blocks until the instrument finished pending operations or
// the read times out
func (d *Driver) WaitForOPC(ctx context.Context) bool {
	reply, ok := d.Query(ctx, "*OPC?")
	if ok && reply == "1" {
		return true
	}
	d.Logger().Warn("*OPC? did not complete")
	return false
}

// Begin clears the status registers and, for power supplies, reads the
// source setup
func (d *Driver) Begin(ctx context.Context) bool {
	d.errQueue.Acknowledge()
	ok := d.Write(ctx, "*CLS")
	ok = d.WaitForOPC(ctx) && ok
	if d.psu {
		ok = d.QuerySource(ctx) && ok
		ok = d.QueryStatus(ctx) && ok
	}
	return d.DrainErrors(ctx) && ok
}

// Poll measures the output and collects pending errors
func (d *Driver) Poll(ctx context.Context) bool {
	ok := true
	if d.psu {
		ok = d.Measure(ctx)
		ok = d.queryBool(ctx, "OUTP?", &d.state.OutputEnabled) && ok
		ok = d.QueryStatus(ctx) && ok
	}
	return d.DrainErrors(ctx) && ok
}

// Reset clears and resets the instrument
func (d *Driver) Reset(ctx context.Context) bool {
	ok := d.Write(ctx, "*CLS;*RST")
	d.state = State{}
	return d.WaitForOPC(ctx) && ok
}

// Measure reads output voltage and current. Power is derived when both
// are known.
func (d *Driver) Measure(ctx context.Context) bool {
	ok := d.queryFloat(ctx, "MEAS:VOLT?", &d.state.VoltageMeas)
	ok = d.queryFloat(ctx, "MEAS:CURR?", &d.state.CurrentMeas) && ok

	v, vOK := d.state.VoltageMeas.Get()
	i, iOK := d.state.CurrentMeas.Get()
	if vOK && iOK {
		d.state.PowerMeas.Set(v * i)
	} else {
		d.state.PowerMeas.Clear()
	}
	return ok
}

// QuerySource reads the programmed source values and protections
func (d *Driver) QuerySource(ctx context.Context) bool {
	ok := d.queryFloat(ctx, "SOUR:VOLT?", &d.state.VoltageSource)
	ok = d.queryFloat(ctx, "SOUR:CURR?", &d.state.CurrentSource) && ok
	ok = d.queryFloat(ctx, "SOUR:VOLT:PROT:LEV?", &d.state.OVPLevel) && ok
	ok = d.queryBool(ctx, "SOUR:CURR:PROT:STAT?", &d.state.OCPEnabled) && ok
	return d.queryBool(ctx, "OUTP?", &d.state.OutputEnabled) && ok
}

// QueryStatus reads the questionable and operation condition registers
func (d *Driver) QueryStatus(ctx context.Context) bool {
	ok := true
	if v, good := d.queryRegister(ctx, "STAT:QUES:COND?"); good {
		qs := DecodeQuestionable(v)
		d.state.Questionable.Set(qs)
		if qs.Tripped() {
			d.Logger().Warn("Output disabled by protection", zap.Uint16("questionable", v))
		}
	} else {
		d.state.Questionable.Clear()
		ok = false
	}
	if v, good := d.queryRegister(ctx, "STAT:OPER:COND?"); good {
		d.state.Operation.Set(DecodeOperation(v))
	} else {
		d.state.Operation.Clear()
		ok = false
	}
	return ok
}

// SetVoltage programs the source voltage and reads it back
func (d *Driver) SetVoltage(ctx context.Context, volts float64) bool {
	if !d.Write(ctx, fmt.Sprintf("SOUR:VOLT %.5f", volts)) {
		return false
	}
	return d.queryFloat(ctx, "SOUR:VOLT?", &d.state.VoltageSource)
}

// SetCurrent programs the source current and reads it back
func (d *Driver) SetCurrent(ctx context.Context, amps float64) bool {
	if !d.Write(ctx, fmt.Sprintf("SOUR:CURR %.5f", amps)) {
		return false
	}
	return d.queryFloat(ctx, "SOUR:CURR?", &d.state.CurrentSource)
}

// SetOVPLevel programs the over-voltage protection level
func (d *Driver) SetOVPLevel(ctx context.Context, volts float64) bool {
	if !d.Write(ctx, fmt.Sprintf("SOUR:VOLT:PROT:LEV %f", volts)) {
		return false
	}
	return d.queryFloat(ctx, "SOUR:VOLT:PROT:LEV?", &d.state.OVPLevel)
}

// SetOCP enables or disables over-current protection
func (d *Driver) SetOCP(ctx context.Context, enable bool) bool {
	if !d.Write(ctx, "SOUR:CURR:PROT:STAT "+onOff(enable)) {
		return false
	}
	return d.queryBool(ctx, "SOUR:CURR:PROT:STAT?", &d.state.OCPEnabled)
}

// SetOutput switches the output
func (d *Driver) SetOutput(ctx context.Context, enable bool) bool {
	if !d.Write(ctx, "OUTP "+onOff(enable)) {
		return false
	}
	return d.queryBool(ctx, "OUTP?", &d.state.OutputEnabled)
}

// ClearProtection re-arms the output after a protection trip
func (d *Driver) ClearProtection(ctx context.Context) bool {
	return d.Write(ctx, "OUTP:PROT:CLE")
}

func onOff(enable bool) string {
	if enable {
		return "ON"
	}
	return "OFF"
}

// DrainErrors pops the error queue until it reports no error
func (d *Driver) DrainErrors(ctx context.Context) bool {
	engine := d.Engine()
	if engine == nil {
		return false
	}
	before := d.errQueue.Len()
	ok := d.errQueue.Drain(ctx, engine)
	if entries := d.errQueue.Entries(); len(entries) > before {
		d.Logger().Warn("Instrument reported errors", zap.Strings("errors", entries[before:]))
	}
	return ok
}

// Errors returns the errors collected since the last acknowledge
func (d *Driver) Errors() []string {
	return d.errQueue.Entries()
}

// AcknowledgeErrors clears the collected errors
func (d *Driver) AcknowledgeErrors() {
	d.errQueue.Acknowledge()
}

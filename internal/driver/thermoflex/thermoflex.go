// internal/driver/thermoflex/thermoflex.go
package thermoflex

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/checksum"
	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/pkg/driver"
)

// DriverName is the registry key of this driver
const DriverName = "thermoflex"

// Command bytes of the chiller protocol
const (
	cmdAck          = 0x00
	cmdDisplay      = 0x07
	cmdStatus       = 0x09
	cmdFlow         = 0x10
	cmdTemp         = 0x20
	cmdSupplyPres   = 0x28
	cmdSuctionPres  = 0x29
	cmdAlarmLoFlow  = 0x30
	cmdAlarmLoTemp  = 0x40
	cmdAlarmLoPres  = 0x48
	cmdAlarmHiFlow  = 0x50
	cmdAlarmHiTemp  = 0x60
	cmdAlarmHiPres  = 0x68
	cmdSetpoint     = 0x70
	cmdPIDP         = 0x74
	cmdPIDI         = 0x75
	cmdPIDD         = 0x76
	cmdOnOff        = 0x81
	cmdSendSetpoint = 0xF0
)

const (
	onOffTurnOff = 0x00
	onOffTurnOn  = 0x01
	onOffQuery   = 0x02
)

// Units the driver expects the chiller to be configured in
const (
	expectedTempUnit = UnitDegC
	expectedFlowUnit = UnitLPM
	expectedPresUnit = UnitBar
)

const (
	defaultMinSetpoint = 10.0 // degC
	defaultMaxSetpoint = 40.0 // degC
)

// Codec returns the chiller framing: start marker CA 00 01, command, length,
// data and a one's complement checksum that skips the lead byte
func Codec() *protocol.BinaryCodec {
	return &protocol.BinaryCodec{
		Start:        []byte{0xCA, 0x00, 0x01},
		LengthOffset: 4,
		Checksum:     checksum.Sum1,
		ChecksumFrom: 1,
		NACK: &protocol.NACKRule{
			Offset:     3,
			Marker:     0x0F,
			CodeOffset: 5,
			Messages:   map[int]string{1: "bad command", 2: "bad data", 3: "bad checksum"},
		},
	}
}

// Units are the units of measure the chiller reported with its alarm values
type Units struct {
	Temp model.Optional[Unit] `json:"temp"`
	Flow model.Optional[Unit] `json:"flow"`
	Pres model.Optional[Unit] `json:"pres"`
}

// AlarmValues are the configured alarm limits
type AlarmValues struct {
	LoTemp model.Optional[float64] `json:"lo_temp_degc"`
	HiTemp model.Optional[float64] `json:"hi_temp_degc"`
	LoFlow model.Optional[float64] `json:"lo_flow_lpm"`
	HiFlow model.Optional[float64] `json:"hi_flow_lpm"`
	LoPres model.Optional[float64] `json:"lo_pres_bar"`
	HiPres model.Optional[float64] `json:"hi_pres_bar"`
}

// PIDValues are the temperature controller terms
type PIDValues struct {
	P model.Optional[float64] `json:"p"`
	I model.Optional[float64] `json:"i"`
	D model.Optional[float64] `json:"d"`
}

// State holds the process values
type State struct {
	Setpoint        model.Optional[float64] `json:"setpoint_degc"`
	Temp            model.Optional[float64] `json:"temp_degc"`
	Flow            model.Optional[float64] `json:"flow_lpm"`
	SupplyPressure  model.Optional[float64] `json:"supply_pres_bar"`
	SuctionPressure model.Optional[float64] `json:"suction_pres_bar"`
	IsOn            model.Optional[bool]    `json:"is_on"`
}

// Snapshot is what State returns
type Snapshot struct {
	State       State                      `json:"state"`
	Units       Units                      `json:"units"`
	AlarmValues AlarmValues                `json:"alarm_values"`
	PIDValues   PIDValues                  `json:"pid_values"`
	StatusBits  model.Optional[StatusBits] `json:"status_bits"`
	Display     model.Optional[string]     `json:"display"`
}

// Driver controls a ThermoFlex recirculating chiller over RS232
type Driver struct {
	*driver.Base

	minSetpoint float64
	maxSetpoint float64
	snap        Snapshot
}

var _ driver.CommandDriver = (*Driver)(nil)

// New creates a ThermoFlex driver. Options: min_setpoint_degc and
// max_setpoint_degc.
func New(cfg *config.InstrumentConfig, deps driver.Deps) (driver.InstrumentDriver, error) {
	d := &Driver{
		minSetpoint: driver.OptionFloat(cfg.Options, "min_setpoint_degc", defaultMinSetpoint),
		maxSetpoint: driver.OptionFloat(cfg.Options, "max_setpoint_degc", defaultMaxSetpoint),
	}
	if d.minSetpoint > d.maxSetpoint {
		return nil, fmt.Errorf("instrument %s: min setpoint %.1f above max %.1f", cfg.Name, d.minSetpoint, d.maxSetpoint)
	}

	base, err := driver.NewBase(*cfg, deps, driver.InstrumentInfo{
		Manufacturer:   "Thermo Scientific",
		Model:          "ThermoFlex",
		InstrumentType: model.InstrumentTypeChiller,
	}, driver.SessionSpec{
		Settings: protocol.Settings{
			BaudRate:     9600,
			Parity:       "none",
			DataBits:     8,
			StopBits:     1,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Codec: Codec(),
		Identity: &discovery.Identity{
			Query: identityQuery,
			Broad: true,
		},
	})
	if err != nil {
		return nil, err
	}
	d.Base = base
	return d, nil
}

// identityQuery sends the acknowledge request. A chiller answers with
// protocol version 0.0 or 0.1.
func identityQuery(ctx context.Context, engine *protocol.Engine) (interface{}, interface{}, error) {
	reply, err := engine.Transact(ctx, protocol.Bytes(cmdAck, 0x00))
	if err != nil {
		return nil, nil, err
	}
	ok := bytes.Equal(reply, []byte{0x00, 0x00}) || bytes.Equal(reply, []byte{0x00, 0x01})
	return ok, nil, nil
}

// State returns a snapshot of everything read so far
func (d *Driver) State() interface{} {
	return d.snap
}

// query sends one command and returns the reply data
func (d *Driver) query(ctx context.Context, msg ...byte) ([]byte, bool) {
	engine := d.Engine()
	if engine == nil {
		return nil, false
	}
	reply, ok, _ := engine.Query(ctx, protocol.Bytes(msg...), protocol.WarnAndContinue)
	return reply, ok
}

// queryReading sends a value request and decodes the reply. target and
// unit are cleared when anything fails.
func (d *Driver) queryReading(ctx context.Context, target *model.Optional[float64], unit *model.Optional[Unit], msg ...byte) bool {
	reply, ok := d.query(ctx, msg...)
	if ok {
		value, u, err := ParseReading(reply)
		if err == nil {
			target.Set(value.InexactFloat64())
			if unit != nil {
				unit.Set(u)
			}
			return true
		}
		d.Logger().Warn("Malformed reading", zap.Binary("data", reply), zap.Error(err))
	}
	target.Clear()
	if unit != nil {
		unit.Clear()
	}
	return false
}

// read requests the value behind a single command byte
func (d *Driver) read(ctx context.Context, target *model.Optional[float64], unit *model.Optional[Unit], cmd byte) bool {
	return d.queryReading(ctx, target, unit, cmd, 0x00)
}

// Begin reads the alarm limits and units, the PID terms, the status bits
// and the setpoint. It fails when the chiller is not configured in degC,
// LPM and bar.
func (d *Driver) Begin(ctx context.Context) bool {
	ok := d.QueryAlarmValues(ctx)
	if !d.checkUnits() {
		return false
	}
	return all(
		ok,
		d.QueryPIDValues(ctx),
		d.QueryStatusBits(ctx),
		d.QuerySetpoint(ctx),
	)
}

func (d *Driver) checkUnits() bool {
	check := func(what string, got model.Optional[Unit], want Unit) bool {
		u, known := got.Get()
		if known && u != want {
			d.Logger().Error("Chiller uses the wrong unit",
				zap.String("quantity", what),
				zap.Stringer("unit", u),
				zap.Stringer("expected", want),
			)
			return false
		}
		return true
	}
	u := d.snap.Units
	return all(
		check("temperature", u.Temp, expectedTempUnit),
		check("flow", u.Flow, expectedFlowUnit),
		check("pressure", u.Pres, expectedPresUnit),
	)
}

// Poll reads the status bits and the process values
func (d *Driver) Poll(ctx context.Context) bool {
	return all(d.QueryStatusBits(ctx), d.QueryState(ctx))
}

// QueryAlarmValues reads the six alarm limits and their units
func (d *Driver) QueryAlarmValues(ctx context.Context) bool {
	a, u := &d.snap.AlarmValues, &d.snap.Units
	return all(
		d.read(ctx, &a.LoFlow, &u.Flow, cmdAlarmLoFlow),
		d.read(ctx, &a.LoTemp, &u.Temp, cmdAlarmLoTemp),
		d.read(ctx, &a.LoPres, &u.Pres, cmdAlarmLoPres),
		d.read(ctx, &a.HiFlow, &u.Flow, cmdAlarmHiFlow),
		d.read(ctx, &a.HiTemp, &u.Temp, cmdAlarmHiTemp),
		d.read(ctx, &a.HiPres, &u.Pres, cmdAlarmHiPres),
	)
}

// QueryPIDValues reads the controller terms
func (d *Driver) QueryPIDValues(ctx context.Context) bool {
	p := &d.snap.PIDValues
	return all(
		d.read(ctx, &p.P, nil, cmdPIDP),
		d.read(ctx, &p.I, nil, cmdPIDI),
		d.read(ctx, &p.D, nil, cmdPIDD),
	)
}

// QueryState reads the setpoint and the measured values
func (d *Driver) QueryState(ctx context.Context) bool {
	s := &d.snap.State
	return all(
		d.QuerySetpoint(ctx),
		d.read(ctx, &s.Temp, nil, cmdTemp),
		d.read(ctx, &s.Flow, nil, cmdFlow),
		d.read(ctx, &s.SupplyPressure, nil, cmdSupplyPres),
		d.read(ctx, &s.SuctionPressure, nil, cmdSuctionPres),
	)
}

// QuerySetpoint reads the temperature setpoint
func (d *Driver) QuerySetpoint(ctx context.Context) bool {
	return d.queryReading(ctx, &d.snap.State.Setpoint, nil, cmdSetpoint, 0x00)
}

// QueryStatusBits reads the faults and warnings
func (d *Driver) QueryStatusBits(ctx context.Context) bool {
	reply, ok := d.query(ctx, cmdStatus, 0x00)
	if !ok {
		d.snap.StatusBits.Clear()
		return false
	}
	status, err := DecodeStatusBits(reply)
	if err != nil {
		d.Logger().Warn("Malformed status", zap.Error(err))
		d.snap.StatusBits.Clear()
		return false
	}
	d.snap.StatusBits.Set(status)
	d.snap.State.IsOn.Set(status.Running)
	if status.FaultTripped {
		d.Logger().Warn("Chiller fault tripped")
	}
	return true
}

// QueryDisplay reads the text on the chiller display
func (d *Driver) QueryDisplay(ctx context.Context) bool {
	reply, ok := d.query(ctx, cmdDisplay, 0x00)
	if !ok {
		d.snap.Display.Clear()
		return false
	}
	d.snap.Display.Set(string(reply))
	return true
}

// TurnOn starts the chiller
func (d *Driver) TurnOn(ctx context.Context) bool {
	return d.onOff(ctx, onOffTurnOn)
}

// TurnOff stops the chiller
func (d *Driver) TurnOff(ctx context.Context) bool {
	return d.onOff(ctx, onOffTurnOff)
}

// QueryIsOn reads the on/off state
func (d *Driver) QueryIsOn(ctx context.Context) bool {
	return d.onOff(ctx, onOffQuery)
}

// onOff sends the on/off array. The chiller replies with its resulting
// state.
func (d *Driver) onOff(ctx context.Context, action byte) bool {
	reply, ok := d.query(ctx, cmdOnOff, 0x01, action)
	if !ok || len(reply) == 0 {
		d.snap.State.IsOn.Clear()
		return false
	}
	on := reply[0] != 0
	d.snap.State.IsOn.Set(on)
	if action != onOffQuery {
		d.Logger().Info("Chiller switched", zap.Bool("on", on))
	}
	return true
}

// SendSetpoint writes a new setpoint, clamped to the configured limits.
// The chiller echoes the setpoint it accepted.
func (d *Driver) SendSetpoint(ctx context.Context, degC float64) bool {
	if math.IsNaN(degC) || math.IsInf(degC, 0) {
		d.Logger().Warn("Illegal setpoint, not sent", zap.Float64("degC", degC))
		return false
	}
	if degC < d.minSetpoint || degC > d.maxSetpoint {
		clamped := math.Min(math.Max(degC, d.minSetpoint), d.maxSetpoint)
		d.Logger().Warn("Setpoint capped", zap.Float64("requested", degC), zap.Float64("sent", clamped))
		degC = clamped
	}

	hi, lo := EncodeSetpoint(degC)
	return d.queryReading(ctx, &d.snap.State.Setpoint, nil, cmdSendSetpoint, 0x02, hi, lo)
}

// all reports whether every result is true. Arguments are evaluated by the
// caller, so every query runs.
func all(results ...bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// internal/driver/mdrive/mdrive.go
package mdrive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/circular"
	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/pkg/driver"
)

// DriverName is the registry key of this driver
const DriverName = "mdrive"

const (
	escape = "\x1b"
	// replyEnd terminates every half-duplex reply
	replyEnd = "\r\n"

	defaultStepsPerRev = 51200 // 200 full steps, 256 microsteps
)

// BusAddresses are the party mode device names probed by Begin
var BusAddresses = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// Motor holds what is known about one motor on the bus
type Motor struct {
	Address          string                `json:"address"`
	Acceleration     model.Optional[int64] `json:"acceleration"`
	Deceleration     model.Optional[int64] `json:"deceleration"`
	MaxVelocity      model.Optional[int64] `json:"max_velocity"`
	InitialVelocity  model.Optional[int64] `json:"initial_velocity"`
	Position         model.Optional[int64] `json:"position"`
	Velocity         model.Optional[int64] `json:"velocity"`
	Moving           model.Optional[bool]  `json:"moving"`
	VelocityChanging model.Optional[bool]  `json:"velocity_changing"`
	ErrorFlag        model.Optional[bool]  `json:"error_flag"`
	ErrorCode        model.Optional[int64] `json:"error_code"`
}

// Snapshot is what State returns
type Snapshot struct {
	Motors      []Motor `json:"motors"`
	StepsPerRev int64   `json:"steps_per_rev"`
}

// Driver controls MDrive steppers sharing one RS422 line in party mode.
// Every message is prefixed with the device name of its motor.
type Driver struct {
	*driver.Base

	stepsPerRev int64
	initLabel   string
	configured  []string
	motors      []*Motor
}

var _ driver.CommandDriver = (*Driver)(nil)

// New creates an MDrive driver. Options: steps_per_rev, motors (comma
// separated device names, skips the presence scan) and init_subroutine
// (label executed on every motor by Begin).
func New(cfg *config.InstrumentConfig, deps driver.Deps) (driver.InstrumentDriver, error) {
	d := &Driver{
		stepsPerRev: int64(driver.OptionInt(cfg.Options, "steps_per_rev", defaultStepsPerRev)),
		initLabel:   driver.OptionString(cfg.Options, "init_subroutine", ""),
	}
	if d.stepsPerRev <= 0 {
		return nil, fmt.Errorf("instrument %s: steps_per_rev must be positive", cfg.Name)
	}
	if names := driver.OptionString(cfg.Options, "motors", ""); names != "" {
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				d.configured = append(d.configured, n)
			}
		}
	}

	base, err := driver.NewBase(*cfg, deps, driver.InstrumentInfo{
		Manufacturer:   "Novanta IMS",
		Model:          "MDrive",
		InstrumentType: model.InstrumentTypeStepper,
	}, driver.SessionSpec{
		Settings: protocol.Settings{
			BaudRate:     9600,
			Parity:       "none",
			DataBits:     8,
			StopBits:     1,
			ReadTimeout:  400 * time.Millisecond,
			WriteTimeout: 400 * time.Millisecond,
		},
		Codec: &protocol.ASCIICodec{ReadTerminator: "\n", WriteTerminator: "\n", Raw: true},
		Identity: &discovery.Identity{
			Query: identityQuery,
			Broad: "MDrive",
		},
	})
	if err != nil {
		return nil, err
	}
	d.Base = base
	return d, nil
}

// identityQuery sends escape, which also stops all motion. Half-duplex
// motors answer CR LF, full-duplex ones echo # first.
func identityQuery(ctx context.Context, engine *protocol.Engine) (interface{}, interface{}, error) {
	reply, err := engine.Transact(ctx, protocol.Text(escape))
	if err != nil {
		return nil, nil, err
	}
	if bytes.HasPrefix(reply, []byte(replyEnd)) || bytes.HasPrefix(reply, []byte("#"+replyEnd)) {
		engine.Flush()
		return "MDrive", nil, nil
	}
	return "", nil, nil
}

// State returns a copy of every motor
func (d *Driver) State() interface{} {
	snap := Snapshot{Motors: make([]Motor, 0, len(d.motors)), StepsPerRev: d.stepsPerRev}
	for _, m := range d.motors {
		snap.Motors = append(snap.Motors, *m)
	}
	return snap
}

// Motors returns the device names found by Begin
func (d *Driver) Motors() []string {
	names := make([]string, 0, len(d.motors))
	for _, m := range d.motors {
		names = append(names, m.Address)
	}
	return names
}

func (d *Driver) motor(addr string) (*Motor, error) {
	for _, m := range d.motors {
		if m.Address == addr {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: no motor %q on the bus", driver.ErrInvalidArgument, addr)
}

// query sends msg and requires the half-duplex reply ending
func (d *Driver) query(ctx context.Context, msg string) (string, bool) {
	engine := d.Engine()
	if engine == nil {
		return "", false
	}
	reply, ok, _ := engine.QueryString(ctx, msg, protocol.WarnAndContinue)
	if !ok {
		return "", false
	}
	if !strings.HasSuffix(reply, replyEnd) {
		d.Logger().Warn("Malformed reply", zap.String("message", msg), zap.String("reply", reply))
		return "", false
	}
	return strings.TrimSpace(reply), true
}

// command sends msg and expects an empty acknowledgement
func (d *Driver) command(ctx context.Context, msg string) bool {
	reply, ok := d.query(ctx, msg)
	if ok && reply != "" {
		d.Logger().Warn("Unexpected reply", zap.String("message", msg), zap.String("reply", reply))
		return false
	}
	return ok
}

// Scan probes every bus address and returns the ones that answered
func (d *Driver) Scan(ctx context.Context) []string {
	engine := d.Engine()
	if engine == nil {
		return nil
	}
	var found []string
	results := engine.ScanAddresses(ctx, BusAddresses, protocol.Text)
	for _, r := range results {
		if r.Presence == protocol.Present {
			found = append(found, r.Address)
			engine.Flush()
		}
	}
	d.Logger().Info("Motor scan finished", zap.Strings("motors", found))
	return found
}

// Begin finds the motors, switches them to half duplex and reads their
// motion configuration
func (d *Driver) Begin(ctx context.Context) bool {
	addrs := d.configured
	if len(addrs) == 0 {
		addrs = d.Scan(ctx)
	}
	if len(addrs) == 0 {
		d.Logger().Warn("No motors on the bus")
		return false
	}

	d.motors = d.motors[:0]
	ok := true
	for _, addr := range addrs {
		m := &Motor{Address: addr}
		d.motors = append(d.motors, m)

		// the reply to em 1 may still be in full duplex
		if engine := d.Engine(); engine != nil {
			_, sent, _ := engine.QueryString(ctx, addr+"em 1", protocol.WarnAndContinue)
			engine.Flush()
			ok = sent && ok
		}
		if d.initLabel != "" {
			ok = d.ExecuteSubroutine(ctx, addr, d.initLabel) && ok
		}
		ok = d.readConfig(ctx, m) && ok
		ok = d.readState(ctx, m) && ok
	}
	return ok
}

// Poll reads position, velocity and error state of every motor
func (d *Driver) Poll(ctx context.Context) bool {
	ok := true
	for _, m := range d.motors {
		ok = d.readState(ctx, m) && ok
		ok = d.readErrors(ctx, m) && ok
	}
	return ok
}

func (d *Driver) readConfig(ctx context.Context, m *Motor) bool {
	return d.printFields(ctx, m.Address, []string{"A", "D", "VM", "VI"},
		&m.Acceleration, &m.Deceleration, &m.MaxVelocity, &m.InitialVelocity)
}

func (d *Driver) readState(ctx context.Context, m *Motor) bool {
	var moving, changing model.Optional[int64]
	ok := d.printFields(ctx, m.Address, []string{"P", "V", "MV", "VC"},
		&m.Position, &m.Velocity, &moving, &changing)
	setFlag(&m.Moving, moving)
	setFlag(&m.VelocityChanging, changing)
	return ok
}

func (d *Driver) readErrors(ctx context.Context, m *Motor) bool {
	var flag model.Optional[int64]
	ok := d.printFields(ctx, m.Address, []string{"EF", "ER"}, &flag, &m.ErrorCode)
	setFlag(&m.ErrorFlag, flag)
	if code, known := m.ErrorCode.Get(); known && code != 0 {
		d.Logger().Warn("Motor reports an error", zap.String("motor", m.Address), zap.Int64("code", code))
	}
	return ok
}

func setFlag(dst *model.Optional[bool], src model.Optional[int64]) {
	if v, ok := src.Get(); ok {
		dst.Set(v != 0)
	} else {
		dst.Clear()
	}
}

// printFields prints several variables in one message, separated by
// underscores, and parses them as integers. Every target is cleared when
// the reply does not fit.
func (d *Driver) printFields(ctx context.Context, addr string, vars []string, targets ...*model.Optional[int64]) bool {
	msg := addr + "pr " + strings.Join(vars, `,"_",`)
	reply, ok := d.query(ctx, msg)

	fields := strings.Split(reply, "_")
	if ok && len(fields) != len(targets) {
		d.Logger().Warn("Unexpected field count", zap.String("message", msg), zap.String("reply", reply))
		ok = false
	}
	values := make([]int64, len(targets))
	for i := 0; ok && i < len(fields); i++ {
		v, err := strconv.ParseInt(strings.TrimSpace(fields[i]), 10, 64)
		if err != nil {
			d.Logger().Warn("Malformed field", zap.String("variable", vars[i]), zap.String("reply", reply))
			ok = false
		}
		values[i] = v
	}

	for i, t := range targets {
		if ok {
			t.Set(values[i])
		} else {
			t.Clear()
		}
	}
	return ok
}

// MoveAbsolute moves to an absolute step position
func (d *Driver) MoveAbsolute(ctx context.Context, addr string, position int64) error {
	return d.motion(ctx, addr, fmt.Sprintf("%sma %d", addr, position))
}

// MoveRelative moves by steps
func (d *Driver) MoveRelative(ctx context.Context, addr string, steps int64) error {
	return d.motion(ctx, addr, fmt.Sprintf("%smr %d", addr, steps))
}

// MoveToAngle turns the shortest way to an absolute angle, never more than
// half a revolution. The position is read first.
func (d *Driver) MoveToAngle(ctx context.Context, addr string, degrees float64) (int64, error) {
	m, err := d.motor(addr)
	if err != nil {
		return 0, err
	}
	if !d.readState(ctx, m) {
		return 0, fmt.Errorf("%w: position of motor %s unknown", driver.ErrCommandFailed, addr)
	}

	pos, _ := m.Position.Get()
	from := circular.Normalize(pos, d.stepsPerRev)
	to := circular.StepTarget(degrees, d.stepsPerRev)
	steps := circular.ShortestRelativeStep(from, to, d.stepsPerRev)
	if steps == 0 {
		return 0, nil
	}
	return steps, d.MoveRelative(ctx, addr, steps)
}

// Slew runs at a constant velocity until stopped
func (d *Driver) Slew(ctx context.Context, addr string, velocity int64) error {
	return d.motion(ctx, addr, fmt.Sprintf("%ssl %d", addr, velocity))
}

// Stop decelerates the motor to standstill
func (d *Driver) Stop(ctx context.Context, addr string) error {
	return d.Slew(ctx, addr, 0)
}

// SetPosition sets the position counter without moving
func (d *Driver) SetPosition(ctx context.Context, addr string, position int64) error {
	return d.motion(ctx, addr, fmt.Sprintf("%sp=%d", addr, position))
}

// ExecuteSubroutine runs a program label stored on the motor
func (d *Driver) ExecuteSubroutine(ctx context.Context, addr, label string) bool {
	return d.command(ctx, fmt.Sprintf("%sex %s", addr, label))
}

func (d *Driver) motion(ctx context.Context, addr, msg string) error {
	if _, err := d.motor(addr); err != nil {
		return err
	}
	if !d.command(ctx, msg) {
		return fmt.Errorf("%w: %s", driver.ErrCommandFailed, msg)
	}
	return nil
}

// Close stops all motors with escape and closes the session
func (d *Driver) Close() error {
	if d.Session().IsAlive() {
		d.Engine().WriteString(context.Background(), escape, protocol.WarnAndContinue)
	}
	return d.Base.Close()
}

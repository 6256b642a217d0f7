package hydrovar

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"instrument-service/internal/checksum"
	"instrument-service/internal/config"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/protocol/prototest"
	"instrument-service/internal/register"
	"instrument-service/pkg/driver"
)

// slave is a fake Hydrovar answering function codes 0x03 and 0x06
type slave struct {
	mu   sync.Mutex
	unit byte
	regs map[uint16]uint32
}

func newSlave() *slave {
	return &slave{
		unit: 0x01,
		regs: map[uint16]uint32{
			RegAddress.Address:      0x01,
			RegMode.Address:         uint32(ModeActuator),
			RegMinFreq.Address:      200, // 20.0 Hz
			RegMaxFreq.Address:      500, // 50.0 Hz
			RegMotorNomCurr.Address: 550, // 5.50 A
			RegActualValue.Address:  0xFF9C,
			RegOutputFreq.Address:   421,
			RegDevStatusH4.Address:  1<<5 | 1<<6 | 1<<1,
			RegErrorsH3.Address:     1<<6 | 1<<3,
			RegTempInverter.Address: 0x1C,
			RegVoltInverter.Address: 230,
			RegCurrInverter.Address: 275,
		},
	}
}

func lookup(addr uint16) (register.Register, bool) {
	for _, r := range Registers {
		if r.Address == addr {
			return r, true
		}
	}
	return register.Register{}, false
}

func (s *slave) respond(data []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) != 8 || data[0] != s.unit || !checksum.VerifyCRC16(data) {
		return nil
	}
	addr := uint16(data[2])<<8 | uint16(data[3])
	r, known := lookup(addr)
	if !known {
		return checksum.AppendCRC16([]byte{s.unit, data[1] | 0x80, 0x02})
	}

	switch data[1] {
	case register.FuncReadHoldingRegisters:
		width := r.Type.Width()
		count := byte(width)
		if r.ReportedByteCount != 0 {
			count = r.ReportedByteCount
		}
		v := s.regs[addr]
		reply := []byte{s.unit, 0x03, count}
		for i := width - 1; i >= 0; i-- {
			reply = append(reply, byte(v>>(8*uint(i))))
		}
		return checksum.AppendCRC16(reply)
	case register.FuncWriteSingleRegister:
		s.regs[addr] = uint32(data[4])<<8 | uint32(data[5])
		return append([]byte(nil), data...)
	}
	return nil
}

func (s *slave) get(addr uint16) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

func newPump(t *testing.T, s *slave, opts map[string]interface{}) (*Driver, *prototest.Transport) {
	t.Helper()
	tr := prototest.New("/dev/ttyUSB0", s.respond)
	deps := driver.Deps{
		Logger: zaptest.NewLogger(t),
		Factory: func(model.ConnectionType, string, protocol.Settings, *zap.Logger) (protocol.Transport, error) {
			return tr, nil
		},
	}
	cfg := &config.InstrumentConfig{
		Name:       "pump",
		Driver:     DriverName,
		Connection: "serial",
		Addresses:  []string{"/dev/ttyUSB0"},
		Options:    opts,
	}
	d, err := New(cfg, deps)
	require.NoError(t, err)
	return d.(*Driver), tr
}

func TestDriver_ConnectValidatesSlaveAddress(t *testing.T) {
	s := newSlave()
	d, _ := newPump(t, s, nil)
	require.True(t, d.Session().ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
	assert.Equal(t, "Hydrovar HVL", d.Info().Model)

	other := newSlave()
	other.regs[RegAddress.Address] = 0x02
	d, tr := newPump(t, other, nil)
	assert.False(t, d.Session().ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
	assert.False(t, tr.IsOpen())
}

func TestDriver_Begin(t *testing.T) {
	s := newSlave()
	s.regs[RegStopStart.Address] = 1
	d, _ := newPump(t, s, nil)
	ctx := context.Background()
	require.True(t, d.Session().ConnectAtPort(ctx, "/dev/ttyUSB0"))

	require.True(t, d.Begin(ctx))

	assert.Equal(t, uint32(0), s.get(RegStopStart.Address))
	assert.Equal(t, uint32(1), s.get(RegEnableDevice.Address))
	assert.Equal(t, uint32(1), s.get(RegCReqVal1.Address))
	assert.Equal(t, uint32(0), s.get(RegCReqVal2.Address))
	assert.Equal(t, uint32(100), s.get(RegStartValue.Address))
	assert.Equal(t, uint32(200), s.get(RegActuatFreq1.Address), "wanted frequency starts at the minimum")

	snap := d.State().(Snapshot)
	mode, ok := snap.State.Mode.Get()
	require.True(t, ok)
	assert.Equal(t, ModeActuator, mode)
	assert.Equal(t, 5.5, snap.State.NominalMotorCurrent.OrElse(0))
	assert.Equal(t, 50.0, snap.State.MaxFrequency.OrElse(0))
	assert.True(t, snap.DeviceStatus.Valid())
}

func TestDriver_BeginAttemptsEveryStep(t *testing.T) {
	s := newSlave()
	d, tr := newPump(t, s, nil)
	ctx := context.Background()
	require.True(t, d.Session().ConnectAtPort(ctx, "/dev/ttyUSB0"))

	// P268 stays silent: that step fails but the rest still run
	before := len(tr.Writes())
	tr.SetResponder(func(data []byte) []byte {
		if len(data) > 3 && data[2] == 0x01 && data[3] == 0x1A {
			return nil
		}
		return s.respond(data)
	})

	assert.False(t, d.Begin(ctx))
	assert.Equal(t, 15, len(tr.Writes())-before)
	assert.True(t, d.State().(Snapshot).ErrorStatus.Valid())
}

func TestDriver_Poll(t *testing.T) {
	s := newSlave()
	d, _ := newPump(t, s, nil)
	ctx := context.Background()
	require.True(t, d.Session().ConnectAtPort(ctx, "/dev/ttyUSB0"))
	require.True(t, d.ReadNominalMotorCurrent(ctx))

	require.True(t, d.Poll(ctx))
	snap := d.State().(Snapshot)

	assert.Equal(t, -1.0, snap.State.ActualPressure.OrElse(0))
	assert.Equal(t, 42.1, snap.State.ActualFrequency.OrElse(0))
	assert.Equal(t, 28.0, snap.State.InverterTemp.OrElse(0))
	assert.Equal(t, 2.75, snap.State.InverterCurr.OrElse(0))
	assert.InDelta(t, 50.0, snap.State.InverterCurrPct.OrElse(0), 1e-9)
	assert.True(t, snap.State.PumpIsOn.OrElse(false))
	assert.True(t, snap.State.PumpIsRunning.OrElse(false))
	assert.False(t, snap.State.PumpIsEnabled.OrElse(true))

	errs, _ := snap.ErrorStatus.Get()
	assert.True(t, errs.LackOfWater)
	assert.True(t, errs.PhaseLoss)
	assert.False(t, errs.Overcurrent)
	assert.True(t, errs.HasErrors())
}

func TestDriver_SetpointsAreClamped(t *testing.T) {
	s := newSlave()
	d, _ := newPump(t, s, map[string]interface{}{"max_pressure_bar": 2.5})
	ctx := context.Background()
	require.True(t, d.Session().ConnectAtPort(ctx, "/dev/ttyUSB0"))

	require.True(t, d.SetWantedPressure(ctx, 9))
	assert.Equal(t, uint32(250), s.get(RegReqVal1.Address))
	require.True(t, d.SetWantedPressure(ctx, -1))
	assert.Equal(t, uint32(0), s.get(RegReqVal1.Address))

	require.True(t, d.ReadMinFrequency(ctx))
	require.True(t, d.ReadMaxFrequency(ctx))
	require.True(t, d.SetWantedFrequency(ctx, 80))
	assert.Equal(t, uint32(500), s.get(RegActuatFreq1.Address))
	require.True(t, d.SetWantedFrequency(ctx, 5))
	assert.Equal(t, uint32(200), s.get(RegActuatFreq1.Address))
	assert.Equal(t, 20.0, d.State().(Snapshot).State.WantedFrequency.OrElse(0))
}

func TestDriver_Execute(t *testing.T) {
	s := newSlave()
	d, _ := newPump(t, s, nil)
	ctx := context.Background()
	require.True(t, d.Session().ConnectAtPort(ctx, "/dev/ttyUSB0"))

	res, err := d.Execute(ctx, &driver.Command{Name: CmdStart})
	require.NoError(t, err)
	assert.Equal(t, CmdStart, res.Command)
	assert.Equal(t, uint32(1), s.get(RegStopStart.Address))

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetMode, Args: map[string]interface{}{"mode": "CONTROLLER"}})
	require.NoError(t, err)
	assert.Equal(t, uint32(ModeController), s.get(RegMode.Address))

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetMode, Args: map[string]interface{}{"mode": "TURBO"}})
	assert.ErrorIs(t, err, driver.ErrInvalidArgument)

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetPressure})
	assert.ErrorIs(t, err, driver.ErrInvalidArgument)

	_, err = d.Execute(ctx, &driver.Command{Name: "self_destruct"})
	assert.ErrorIs(t, err, driver.ErrUnknownCommand)
}

func TestDriver_CommandFailsWhenClosed(t *testing.T) {
	d, _ := newPump(t, newSlave(), nil)

	_, err := d.Execute(context.Background(), &driver.Command{Name: CmdStop})
	assert.ErrorIs(t, err, driver.ErrCommandFailed)
}

func TestDecodeDeviceStatus(t *testing.T) {
	st := DecodeDeviceStatus(1<<15 | 1<<14 | 1<<2)
	assert.True(t, st.InverterStopStart)
	assert.True(t, st.SoloRunOnOff)
	assert.True(t, st.HasError)
	assert.False(t, st.MotorIsRunning)
	assert.Equal(t, uint16(0xC004), st.Raw)
}

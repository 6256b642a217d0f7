package scpi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"instrument-service/internal/config"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/protocol/prototest"
	"instrument-service/pkg/driver"
)

// supply is a fake single channel SCPI power supply
type supply struct {
	mu     sync.Mutex
	idn    string
	volt   float64
	curr   float64
	ovp    float64
	ocp    bool
	out    bool
	ques   uint16
	oper   uint16
	errors []string
}

func newSupply() *supply {
	return &supply{
		idn:  "KEYSIGHT,E36102B,MY12345678,1.0.3",
		volt: 12,
		curr: 0.5,
		ovp:  15,
		oper: 256,
	}
}

func num(v float64) string {
	return fmt.Sprintf("%+.5E\n", v)
}

func flag(b bool) string {
	if b {
		return "1\n"
	}
	return "0\n"
}

func (s *supply) respond(data []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reply string
	for _, cmd := range strings.Split(strings.TrimSuffix(string(data), "\n"), ";") {
		reply += s.handle(cmd)
	}
	if reply == "" {
		return nil
	}
	return []byte(reply)
}

func (s *supply) handle(cmd string) string {
	var f float64
	switch {
	case cmd == "*IDN?":
		return s.idn + "\n"
	case cmd == "*OPC?":
		return "1\n"
	case cmd == "*CLS":
		s.ques = 0
	case cmd == "*RST":
		s.volt, s.curr, s.out = 0, 0, false
	case cmd == "SOUR:VOLT?":
		return num(s.volt)
	case cmd == "SOUR:CURR?":
		return num(s.curr)
	case cmd == "SOUR:VOLT:PROT:LEV?":
		return num(s.ovp)
	case cmd == "SOUR:CURR:PROT:STAT?":
		return flag(s.ocp)
	case cmd == "OUTP?":
		return flag(s.out)
	case cmd == "STAT:QUES:COND?":
		return fmt.Sprintf("%d\n", s.ques)
	case cmd == "STAT:OPER:COND?":
		return fmt.Sprintf("%d\n", s.oper)
	case cmd == "MEAS:VOLT?":
		if !s.out {
			return num(0)
		}
		return num(s.volt)
	case cmd == "MEAS:CURR?":
		if !s.out {
			return num(0)
		}
		return num(s.curr)
	case cmd == "SYST:ERR?":
		if len(s.errors) == 0 {
			return "+0,\"No error\"\n"
		}
		e := s.errors[0]
		s.errors = s.errors[1:]
		return e + "\n"
	case cmd == "OUTP ON":
		s.out = true
	case cmd == "OUTP OFF":
		s.out = false
	case cmd == "OUTP:PROT:CLE":
		s.ques = 0
	case strings.HasPrefix(cmd, "SOUR:CURR:PROT:STAT "):
		s.ocp = strings.HasSuffix(cmd, "ON")
	case scan(cmd, "SOUR:VOLT:PROT:LEV %f", &f):
		s.ovp = f
	case scan(cmd, "SOUR:VOLT %f", &f):
		s.volt = f
	case scan(cmd, "SOUR:CURR %f", &f):
		s.curr = f
	default:
		s.errors = append(s.errors, "-113,\"Undefined header\"")
	}
	return ""
}

func scan(cmd, format string, f *float64) bool {
	n, err := fmt.Sscanf(cmd, format, f)
	return err == nil && n == 1
}

func newDriver(t *testing.T, s *supply, identity string, opts map[string]interface{}) (*Driver, *prototest.Transport) {
	t.Helper()
	tr := prototest.New("192.168.1.50:5025", s.respond)
	tr.SetKind(model.ConnectionTypeTCP)
	deps := driver.Deps{
		Logger: zaptest.NewLogger(t),
		Factory: func(model.ConnectionType, string, protocol.Settings, *zap.Logger) (protocol.Transport, error) {
			return tr, nil
		},
	}
	d, err := New(&config.InstrumentConfig{
		Name:       "psu",
		Driver:     DriverName,
		Connection: "tcp",
		Addresses:  []string{"192.168.1.50:5025"},
		Identity:   identity,
		Options:    opts,
	}, deps)
	require.NoError(t, err)
	return d.(*Driver), tr
}

func connected(t *testing.T, s *supply) (*Driver, *prototest.Transport) {
	t.Helper()
	d, tr := newDriver(t, s, "MY12345678", nil)
	require.True(t, d.Session().ConnectAtPort(context.Background(), "192.168.1.50:5025"))
	return d, tr
}

func TestDriver_Identity(t *testing.T) {
	d, tr := connected(t, newSupply())
	assert.Equal(t, "*IDN?\n", tr.Written()[0])

	info := d.Info()
	assert.Equal(t, "KEYSIGHT", info.Manufacturer)
	assert.Equal(t, "E36102B", info.Model)
	assert.Equal(t, model.InstrumentTypePowerSupply, info.InstrumentType)
}

func TestDriver_IdentityMismatch(t *testing.T) {
	ctx := context.Background()

	other, _ := newDriver(t, newSupply(), "MY00000000", nil)
	assert.False(t, other.Session().ConnectAtPort(ctx, "192.168.1.50:5025"))
	assert.ErrorIs(t, other.Session().LastError(), protocol.ErrIdentityMismatch)

	wrongModel, _ := newDriver(t, newSupply(), "", map[string]interface{}{"model": "E3631"})
	assert.False(t, wrongModel.Session().ConnectAtPort(ctx, "192.168.1.50:5025"))

	anyUnit, _ := newDriver(t, newSupply(), "", map[string]interface{}{"model": "e361"})
	assert.True(t, anyUnit.Session().ConnectAtPort(ctx, "192.168.1.50:5025"))

	blank := newSupply()
	blank.idn = ""
	silent, _ := newDriver(t, blank, "", nil)
	assert.False(t, silent.Session().ConnectAtPort(ctx, "192.168.1.50:5025"))
}

func TestDriver_Begin(t *testing.T) {
	s := newSupply()
	s.errors = []string{"-222,\"Data out of range\""}
	d, _ := connected(t, s)

	require.True(t, d.Begin(context.Background()))
	snap := d.State().(Snapshot)

	assert.Equal(t, 12.0, snap.State.VoltageSource.OrElse(0))
	assert.Equal(t, 0.5, snap.State.CurrentSource.OrElse(0))
	assert.Equal(t, 15.0, snap.State.OVPLevel.OrElse(0))
	assert.False(t, snap.State.OCPEnabled.OrElse(true))
	assert.False(t, snap.State.OutputEnabled.OrElse(true))

	oper, ok := snap.State.Operation.Get()
	require.True(t, ok)
	assert.True(t, oper.ConstantVoltage)

	assert.Equal(t, []string{"-222,\"Data out of range\""}, snap.Errors)
	assert.Equal(t, snap.Errors, d.Errors())
}

func TestDriver_Poll(t *testing.T) {
	s := newSupply()
	s.out = true
	s.ques = 2
	d, _ := connected(t, s)

	require.True(t, d.Poll(context.Background()))
	st := d.State().(Snapshot).State

	assert.Equal(t, 12.0, st.VoltageMeas.OrElse(0))
	assert.Equal(t, 0.5, st.CurrentMeas.OrElse(0))
	assert.Equal(t, 6.0, st.PowerMeas.OrElse(0))
	assert.True(t, st.OutputEnabled.OrElse(false))

	ques, ok := st.Questionable.Get()
	require.True(t, ok)
	assert.True(t, ques.OverCurrent)
	assert.True(t, ques.Tripped())
}

func TestDriver_MalformedReplyClearsReading(t *testing.T) {
	s := newSupply()
	s.out = true
	d, tr := connected(t, s)
	ctx := context.Background()

	require.True(t, d.Measure(ctx))
	require.True(t, d.State().(Snapshot).State.PowerMeas.Valid())

	tr.SetResponder(prototest.TextTable(map[string]string{
		"MEAS:VOLT?\n": "overload\n",
		"MEAS:CURR?\n": "+5.00000E-01\n",
	}))
	assert.False(t, d.Measure(ctx))

	st := d.State().(Snapshot).State
	assert.False(t, st.VoltageMeas.Valid())
	assert.Equal(t, 0.5, st.CurrentMeas.OrElse(0))
	assert.False(t, st.PowerMeas.Valid())
}

func TestDriver_Setters(t *testing.T) {
	s := newSupply()
	d, tr := connected(t, s)
	ctx := context.Background()

	require.True(t, d.SetVoltage(ctx, 5))
	assert.Contains(t, tr.Written(), "SOUR:VOLT 5.00000\n")
	assert.Equal(t, 5.0, d.State().(Snapshot).State.VoltageSource.OrElse(0))

	require.True(t, d.SetCurrent(ctx, 1.25))
	assert.Equal(t, 1.25, s.curr)

	require.True(t, d.SetOVPLevel(ctx, 6))
	assert.Equal(t, 6.0, s.ovp)

	require.True(t, d.SetOCP(ctx, true))
	assert.True(t, d.State().(Snapshot).State.OCPEnabled.OrElse(false))

	require.True(t, d.SetOutput(ctx, true))
	assert.True(t, s.out)
	require.True(t, d.SetOutput(ctx, false))
	assert.False(t, d.State().(Snapshot).State.OutputEnabled.OrElse(true))
}

func TestDriver_Reset(t *testing.T) {
	s := newSupply()
	d, tr := connected(t, s)

	require.True(t, d.Reset(context.Background()))
	assert.Contains(t, tr.Written(), "*CLS;*RST\n")
	assert.Equal(t, 0.0, s.volt)
}

func TestDriver_ErrorQueue(t *testing.T) {
	s := newSupply()
	d, _ := connected(t, s)
	ctx := context.Background()

	assert.True(t, d.Write(ctx, "BOGUS"))
	require.True(t, d.DrainErrors(ctx))
	assert.Equal(t, []string{"-113,\"Undefined header\""}, d.Errors())

	d.AcknowledgeErrors()
	assert.Empty(t, d.Errors())
}

func TestDriver_Execute(t *testing.T) {
	s := newSupply()
	d, _ := connected(t, s)
	ctx := context.Background()

	res, err := d.Execute(ctx, &driver.Command{Name: CmdSetVoltage, Args: map[string]interface{}{"value": 3.3}})
	require.NoError(t, err)
	assert.Equal(t, CmdSetVoltage, res.Command)
	assert.Equal(t, 3.3, s.volt)

	res, err = d.Execute(ctx, &driver.Command{Name: CmdQuery, Args: map[string]interface{}{"command": "*IDN?"}})
	require.NoError(t, err)
	assert.Equal(t, "KEYSIGHT,E36102B,MY12345678,1.0.3", res.Data["reply"])

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetVoltage, Args: map[string]interface{}{"value": -1}})
	assert.ErrorIs(t, err, driver.ErrInvalidArgument)

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetOCP, Args: map[string]interface{}{"enable": "yes"}})
	assert.ErrorIs(t, err, driver.ErrInvalidArgument)

	_, err = d.Execute(ctx, &driver.Command{Name: "self_destruct"})
	assert.ErrorIs(t, err, driver.ErrUnknownCommand)

	d.Close()
	_, err = d.Execute(ctx, &driver.Command{Name: CmdOutputOn})
	assert.ErrorIs(t, err, driver.ErrCommandFailed)
}

func TestDriver_GenericInstrument(t *testing.T) {
	d, _ := newDriver(t, newSupply(), "", map[string]interface{}{"power_supply": false})
	require.True(t, d.Session().ConnectAtPort(context.Background(), "192.168.1.50:5025"))

	assert.Equal(t, model.InstrumentTypeGeneric, d.Info().InstrumentType)
	assert.NotContains(t, d.Commands(), CmdSetVoltage)

	_, err := d.Execute(context.Background(), &driver.Command{Name: CmdSetVoltage, Args: map[string]interface{}{"value": 1.0}})
	assert.ErrorIs(t, err, driver.ErrUnknownCommand)

	require.True(t, d.Begin(context.Background()))
	assert.False(t, d.State().(Snapshot).State.VoltageSource.Valid())
}

func TestParseIdentity(t *testing.T) {
	idn := ParseIdentity("Rigol Technologies, DP832, DP8C1234, 00.01.14\n")
	assert.Equal(t, Identity{Manufacturer: "Rigol Technologies", Model: "DP832", Serial: "DP8C1234", Firmware: "00.01.14"}, idn)

	assert.Equal(t, Identity{Manufacturer: "ACME"}, ParseIdentity("ACME"))
}

func TestParseNumber(t *testing.T) {
	v, err := ParseNumber("+1.20000E+01")
	require.NoError(t, err)
	assert.Equal(t, "12", v.String())

	v, err = ParseNumber("-0.0015")
	require.NoError(t, err)
	assert.Equal(t, "-0.0015", v.String())

	_, err = ParseNumber("9.9E+37x")
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"1": true, "ON": true, "off": false, "0\n": false} {
		got, err := ParseBool(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBool("2")
	assert.Error(t, err)
}

func TestDecodeStatus(t *testing.T) {
	q := DecodeQuestionable(1 | 1024)
	assert.True(t, q.OverVoltage)
	assert.True(t, q.Unregulated)
	assert.True(t, q.Tripped())
	assert.False(t, DecodeQuestionable(1024).Tripped())

	o := DecodeOperation(1024 | 32)
	assert.True(t, o.ConstantCurrent)
	assert.True(t, o.WaitingForTrigger)
	assert.False(t, o.ConstantVoltage)
}

func TestDriver_ConfiguredCodec(t *testing.T) {
	tr := prototest.New("192.168.1.50:5025", newSupply().respond)
	tr.SetKind(model.ConnectionTypeTCP)
	deps := driver.Deps{
		Logger: zaptest.NewLogger(t),
		Factory: func(model.ConnectionType, string, protocol.Settings, *zap.Logger) (protocol.Transport, error) {
			return tr, nil
		},
	}
	cfg := config.InstrumentConfig{
		Name:       "dmm",
		Driver:     DriverName,
		Connection: "tcp",
		Options:    map[string]interface{}{"power_supply": false},
		Codec:      &protocol.CodecConfig{Framing: protocol.FramingASCII},
	}

	d, err := New(&cfg, deps)
	require.NoError(t, err)
	require.True(t, d.Session().ConnectAtPort(context.Background(), "192.168.1.50:5025"))
	codec, ok := d.Session().Engine().Codec().(*protocol.ASCIICodec)
	require.True(t, ok)
	assert.Equal(t, "\n", codec.ReadTerminator)
	assert.Equal(t, "*IDN?\n", tr.Written()[0])

	cfg.Codec = &protocol.CodecConfig{Framing: protocol.FramingBinary, Start: []byte{0xCA}, LengthOffset: 1, ChecksumFrom: 8}
	_, err = New(&cfg, deps)
	assert.Error(t, err)
}

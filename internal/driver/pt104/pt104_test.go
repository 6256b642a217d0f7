package pt104

import (
	"context"
	"encoding/binary"
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
	"instrument-service/internal/store"
	"instrument-service/pkg/driver"
)

const calib = 100000000 // R = counts ratio * 100 Ohm

func eepromReply() []byte {
	b := make([]byte, 128)
	copy(b[19:29], "AB123/0042")
	copy(b[29:37], "20240115")
	for ch := 0; ch < 4; ch++ {
		binary.LittleEndian.PutUint32(b[37+4*ch:], calib)
	}
	copy(b[53:59], []byte{0x00, 0x11, 0x22, 0xAA, 0xBB, 0xCC})
	b[126], b[127] = 0x12, 0x34
	return append([]byte(eepromPrefix), b...)
}

func packet(ch int, a0, a1, a2, a3 uint32) []byte {
	pkt := make([]byte, 21)
	pkt[0] = byte(4 * (ch - 1))
	for i, a := range []uint32{a0, a1, a2, a3} {
		binary.BigEndian.PutUint32(pkt[1+5*i:], a)
	}
	return pkt
}

// device is a fake PT-104
type device struct {
	mu         sync.Mutex
	conversion []byte
	mains      []byte
}

func (l *device) respond(data []byte) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case string(data) == "lock\r":
		return []byte("Lock Success")
	case len(data) == 1 && data[0] == reqKeepAlive:
		return []byte("Alive")
	case len(data) == 1 && data[0] == reqEeprom:
		return eepromReply()
	case len(data) == 2 && data[0] == reqMains:
		l.mains = append(l.mains, data[1])
		return []byte("Mains Changed")
	case len(data) == 2 && data[0] == reqConvert:
		l.conversion = append(l.conversion, data[1])
		return []byte("Converting")
	}
	return nil
}

func newTransport(respond prototest.Responder) *prototest.Transport {
	tr := prototest.New(defaultAddress, respond)
	tr.Datagrams = true
	tr.SetKind(model.ConnectionTypeUDP)
	return tr
}

func newDriver(t *testing.T, tr *prototest.Transport, opts map[string]interface{}) *Driver {
	t.Helper()
	var dialed string
	deps := driver.Deps{
		Logger: zaptest.NewLogger(t),
		Factory: func(ct model.ConnectionType, addr string, _ protocol.Settings, _ *zap.Logger) (protocol.Transport, error) {
			assert.Equal(t, model.ConnectionTypeUDP, ct)
			dialed = addr
			return tr, nil
		},
	}
	d, err := New(&config.InstrumentConfig{Name: "pt104", Driver: DriverName, Options: opts}, deps)
	require.NoError(t, err)
	require.True(t, d.Connect(context.Background(), store.NewMemoryStore()))
	assert.Equal(t, defaultAddress, dialed)
	return d.(*Driver)
}

func TestDriver_LockIsTheIdentity(t *testing.T) {
	tr := newTransport((&device{}).respond)
	// a stale keep-alive answer arrives before the lock reply
	tr.Queue([]byte("Alive"))
	d := newDriver(t, tr, nil)
	assert.True(t, d.Session().IsAlive())
	assert.Equal(t, model.InstrumentTypeTempLogger, d.Info().InstrumentType)

	refused := newTransport(prototest.TextTable(map[string]string{"lock\r": "Lock Failed"}))
	r, err := New(&config.InstrumentConfig{Name: "pt104", Driver: DriverName}, driver.Deps{
		Logger: zaptest.NewLogger(t),
		Factory: func(model.ConnectionType, string, protocol.Settings, *zap.Logger) (protocol.Transport, error) {
			return refused, nil
		},
	})
	require.NoError(t, err)
	assert.False(t, r.Session().ConnectAtPort(context.Background(), defaultAddress))
	assert.ErrorIs(t, r.Session().LastError(), protocol.ErrIdentityMismatch)
}

func TestDriver_Begin(t *testing.T) {
	dev := &device{}
	d := newDriver(t, newTransport(dev.respond), map[string]interface{}{
		"mains_hz":  60,
		"channels":  "1,2",
		"high_gain": "2",
	})

	require.True(t, d.Begin(context.Background()))
	assert.Equal(t, []byte{0x01}, dev.mains)
	assert.Equal(t, []byte{0x23}, dev.conversion)

	e, ok := d.State().(Snapshot).Eeprom.Get()
	require.True(t, ok)
	assert.Equal(t, "AB123/0042", e.Serial)
	assert.Equal(t, "20240115", e.CalibrationDate)
	assert.Equal(t, "00:11:22:aa:bb:cc", e.MAC)
	assert.Equal(t, uint32(calib), e.Calibration[3])
	assert.Equal(t, "0x12 0x34", e.Checksum)
}

func TestDriver_PollDecodesChannels(t *testing.T) {
	tr := newTransport((&device{}).respond)
	d := newDriver(t, tr, map[string]interface{}{"channels": "1,2,3,4"})
	ctx := context.Background()
	require.True(t, d.Begin(ctx))

	tr.Queue(packet(1, 1000, 2000, 5000, 6000))
	tr.Queue(packet(2, 1000, 2000, 5000, 6385))
	tr.Queue(packet(3, 1000, 1000, 5000, 6000))
	tr.Queue(packet(4, 1000, 2000, 5000, 5100))
	require.True(t, d.Poll(ctx))

	chans := d.State().(Snapshot).Channels
	assert.Equal(t, 100.0, chans[0].Resistance.OrElse(0))
	assert.Equal(t, 138.5, chans[1].Resistance.OrElse(0))
	assert.False(t, chans[2].Resistance.Valid(), "equal reference counts")
	assert.False(t, chans[3].Resistance.Valid(), "10 Ohm is below range")
}

func TestDriver_PollRejectsUnknownDatagrams(t *testing.T) {
	tr := newTransport((&device{}).respond)
	d := newDriver(t, tr, nil)
	ctx := context.Background()

	tr.SetResponder(func([]byte) []byte { return nil })
	assert.False(t, d.Poll(ctx), "silence is a failure")

	tr.SetResponder((&device{}).respond)
	tr.Queue([]byte("Garbage"))
	assert.False(t, d.Poll(ctx))
}

func TestDriver_PollWithoutEepromHasNoResistance(t *testing.T) {
	tr := newTransport((&device{}).respond)
	d := newDriver(t, tr, nil)

	tr.Queue(packet(1, 1000, 2000, 5000, 6000))
	require.True(t, d.Poll(context.Background()))
	assert.False(t, d.State().(Snapshot).Channels[0].Resistance.Valid())
}

func TestDriver_Execute(t *testing.T) {
	dev := &device{}
	d := newDriver(t, newTransport(dev.respond), nil)
	ctx := context.Background()

	_, err := d.Execute(ctx, &driver.Command{Name: CmdSetChannels, Args: map[string]interface{}{"channels": "3", "high_gain": "3,4"}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04 | 0x40 | 0x80}, dev.conversion)

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetChannels, Args: map[string]interface{}{"channels": "5"}})
	assert.ErrorIs(t, err, driver.ErrInvalidArgument)

	_, err = d.Execute(ctx, &driver.Command{Name: CmdSetMains, Args: map[string]interface{}{"hz": 55.0}})
	assert.ErrorIs(t, err, driver.ErrInvalidArgument)

	_, err = d.Execute(ctx, &driver.Command{Name: CmdKeepAlive})
	assert.NoError(t, err)

	_, err = d.Execute(ctx, &driver.Command{Name: "reboot"})
	assert.ErrorIs(t, err, driver.ErrUnknownCommand)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(&config.InstrumentConfig{Name: "pt104", Options: map[string]interface{}{"mains_hz": 55}}, driver.Deps{})
	assert.Error(t, err)

	_, err = New(&config.InstrumentConfig{Name: "pt104", Options: map[string]interface{}{"channels": "0"}}, driver.Deps{})
	assert.Error(t, err)
}

func TestParseEeprom(t *testing.T) {
	_, err := ParseEeprom([]byte("Eeprom=short"))
	assert.Error(t, err)
	_, err = ParseEeprom([]byte("Alive"))
	assert.Error(t, err)
}

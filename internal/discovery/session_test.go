package discovery_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/protocol/prototest"
	"instrument-service/internal/store"
)

// bench is a set of fake ports; addresses without a fake fail to open
type bench struct {
	ports   map[string]*prototest.Transport
	created []string
}

func newBench() *bench {
	return &bench{ports: make(map[string]*prototest.Transport)}
}

func (b *bench) device(address, idn string) *prototest.Transport {
	tr := prototest.New(address, prototest.TextTable(map[string]string{"*IDN?\n": idn + "\n"}))
	b.ports[address] = tr
	return tr
}

func (b *bench) factory(_ model.ConnectionType, address string, _ protocol.Settings, _ *zap.Logger) (protocol.Transport, error) {
	b.created = append(b.created, address)
	if tr, ok := b.ports[address]; ok {
		return tr, nil
	}
	fail := prototest.New(address, nil)
	fail.OpenErr = protocol.ErrTransportOpen
	return fail, nil
}

type lister struct {
	ports []string
	calls int
}

func (l *lister) ListPorts(ctx context.Context, connType model.ConnectionType) ([]string, error) {
	l.calls++
	return l.ports, nil
}

func idnQuery(ctx context.Context, engine *protocol.Engine) (interface{}, interface{}, error) {
	reply, err := engine.Transact(ctx, protocol.Text("*IDN?"))
	if err != nil {
		return nil, nil, err
	}
	fields := strings.Split(string(reply), ",")
	if len(fields) < 3 {
		return string(reply), nil, nil
	}
	return fields[0] + "," + fields[1], fields[2], nil
}

func newSession(t *testing.T, b *bench, l *lister, identity *discovery.Identity, logger *zap.Logger) *discovery.Session {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	cfg := discovery.SessionConfig{
		Name:           "psu",
		Driver:         "scpi",
		ConnectionType: model.ConnectionTypeSerial,
		Codec:          &protocol.ASCIICodec{ReadTerminator: "\n", WriteTerminator: "\n"},
		Identity:       identity,
	}
	opts := []discovery.SessionOption{discovery.WithTransportFactory(b.factory)}
	if l != nil {
		opts = append(opts, discovery.WithPortLister(l))
	}
	return discovery.NewSession(cfg, logger, opts...)
}

func psuIdentity(serial interface{}) *discovery.Identity {
	return &discovery.Identity{Query: idnQuery, Broad: "ACME,PSU-30", Specific: serial}
}

func TestSession_ConnectWithoutIdentity(t *testing.T) {
	b := newBench()
	tr := b.device("/dev/ttyUSB0", "anything")
	s := newSession(t, b, nil, nil, nil)

	require.True(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
	assert.True(t, s.IsAlive())
	assert.Equal(t, discovery.StateAlive, s.State())
	assert.Equal(t, "/dev/ttyUSB0", s.Address())
	assert.Empty(t, tr.Writes(), "no validation transaction without identity")
}

func TestSession_ConnectValidatesIdentity(t *testing.T) {
	b := newBench()
	tr := b.device("/dev/ttyUSB0", "ACME,PSU-30,SN123,1.2")
	s := newSession(t, b, nil, psuIdentity("SN123"), nil)

	require.True(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
	assert.Equal(t, []string{"*IDN?\n"}, tr.Written())
}

func TestSession_IdentityMismatchClosesTransport(t *testing.T) {
	tests := []struct {
		name     string
		idn      string
		specific interface{}
	}{
		{"wrong family", "OTHER,DMM,SN123,1.0", nil},
		{"wrong unit", "ACME,PSU-30,SN999,1.2", "SN123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench()
			tr := b.device("/dev/ttyUSB0", tt.idn)
			s := newSession(t, b, nil, psuIdentity(tt.specific), nil)

			assert.False(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
			assert.False(t, s.IsAlive())
			assert.Equal(t, discovery.StateClosed, s.State())
			assert.False(t, tr.IsOpen())
			assert.ErrorIs(t, s.LastError(), protocol.ErrIdentityMismatch)
		})
	}
}

func TestSession_SpecificIgnoredWhenNotConfigured(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB0", "ACME,PSU-30,SN999,1.2")
	s := newSession(t, b, nil, psuIdentity(nil), nil)

	assert.True(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
}

func TestSession_OpenFailure(t *testing.T) {
	b := newBench()
	s := newSession(t, b, nil, nil, nil)

	assert.False(t, s.ConnectAtPort(context.Background(), "/dev/ttyMISSING"))
	assert.Equal(t, discovery.StateClosed, s.State())
	assert.ErrorIs(t, s.LastError(), protocol.ErrTransportOpen)
}

func TestSession_SilentDeviceFailsValidation(t *testing.T) {
	b := newBench()
	tr := prototest.New("/dev/ttyUSB0", nil)
	b.ports["/dev/ttyUSB0"] = tr
	s := newSession(t, b, nil, psuIdentity(nil), nil)

	assert.False(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
	assert.ErrorIs(t, s.LastError(), protocol.ErrReadTimeout)
	assert.False(t, tr.IsOpen())
}

func TestSession_ScanPortsFirstSuccessWins(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB1", "OTHER,DMM,SN1,1.0")
	b.device("/dev/ttyUSB2", "ACME,PSU-30,SN123,1.2")
	b.device("/dev/ttyUSB3", "ACME,PSU-30,SN456,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2", "/dev/ttyUSB3"}}
	s := newSession(t, b, l, psuIdentity(nil), nil)

	require.True(t, s.ScanPorts(context.Background()))
	assert.Equal(t, "/dev/ttyUSB2", s.Address())
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}, b.created)
	assert.False(t, b.ports["/dev/ttyUSB1"].IsOpen())
}

func TestSession_ScanPortsExhausted(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB1", "OTHER,DMM,SN1,1.0")
	l := &lister{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}}
	s := newSession(t, b, l, psuIdentity(nil), nil)

	assert.False(t, s.ScanPorts(context.Background()))
	assert.False(t, s.IsAlive())
	for _, tr := range b.ports {
		assert.False(t, tr.IsOpen())
	}
}

func TestSession_ScanIsSilentPerAttempt(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := newBench()
	b.device("/dev/ttyUSB1", "OTHER,DMM,SN1,1.0")
	b.device("/dev/ttyUSB2", "ACME,PSU-30,SN123,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}}
	s := newSession(t, b, l, psuIdentity(nil), zap.New(core))

	require.True(t, s.ScanPorts(context.Background()))
	assert.Zero(t, logs.FilterMessage("Connect attempt failed").Len())
	assert.Zero(t, logs.FilterMessage("Transaction timed out").Len())
	assert.Equal(t, 1, logs.FilterMessage("Instrument connection event").Len())
}

func TestSession_ScanRestoresTransportLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := newBench()
	found := b.device("/dev/ttyUSB2", "ACME,PSU-30,SN123,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB2"}}
	s := newSession(t, b, l, psuIdentity(nil), zap.New(core))

	require.True(t, s.ScanPorts(context.Background()))
	require.NotNil(t, found.Logger())
	found.Logger().Debug("Serial port closed")

	entries := logs.FilterMessage("Serial port closed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "psu", entries[0].ContextMap()["instrument"])
}

func TestSession_StaticCandidatesComeFirst(t *testing.T) {
	b := newBench()
	b.device("10.0.0.5:5025", "ACME,PSU-30,SN123,1.2")
	b.device("/dev/ttyUSB0", "ACME,PSU-30,SN123,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB0"}}

	cfg := discovery.SessionConfig{
		Name:           "psu",
		ConnectionType: model.ConnectionTypeTCP,
		Codec:          &protocol.ASCIICodec{ReadTerminator: "\n", WriteTerminator: "\n"},
		Identity:       psuIdentity(nil),
		Candidates:     []string{"10.0.0.5:5025"},
	}
	s := discovery.NewSession(cfg, zaptest.NewLogger(t),
		discovery.WithTransportFactory(b.factory), discovery.WithPortLister(l))

	require.True(t, s.ScanPorts(context.Background()))
	assert.Equal(t, "10.0.0.5:5025", s.Address())
}

func TestSession_AutoConnectPrefersPersistedPort(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB7", "ACME,PSU-30,SN123,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB7"}}
	s := newSession(t, b, l, psuIdentity(nil), nil)

	kv := store.NewMemoryStore()
	kv.Store(context.Background(), "port_psu", "/dev/ttyUSB7")

	require.True(t, s.AutoConnect(context.Background(), kv, "port_psu"))
	assert.Zero(t, l.calls, "scan must not run when the persisted port works")
	assert.Equal(t, []string{"/dev/ttyUSB7"}, b.created)
}

func TestSession_AutoConnectFallsBackAndPersists(t *testing.T) {
	dir := t.TempDir()
	kv := store.NewFileStore(dir, zaptest.NewLogger(t))
	kv.Store(context.Background(), "port_psu", "/dev/ttyUSB0")

	b := newBench()
	b.device("/dev/ttyUSB0", "OTHER,DMM,SN1,1.0")
	b.device("/dev/ttyUSB4", "ACME,PSU-30,SN123,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB0", "/dev/ttyUSB4"}}
	s := newSession(t, b, l, psuIdentity(nil), nil)

	require.True(t, s.AutoConnect(context.Background(), kv, "port_psu"))
	assert.Equal(t, 1, l.calls)

	port, ok := kv.Load(context.Background(), "port_psu")
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB4", port)
}

func TestSession_AutoConnectWithoutPersistedPort(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB2", "ACME,PSU-30,SN123,1.2")
	l := &lister{ports: []string{"/dev/ttyUSB2"}}
	s := newSession(t, b, l, psuIdentity(nil), nil)
	kv := store.NewMemoryStore()

	require.True(t, s.AutoConnect(context.Background(), kv, "port_psu"))
	port, _ := kv.Load(context.Background(), "port_psu")
	assert.Equal(t, "/dev/ttyUSB2", port)
}

type failingStore struct{}

func (failingStore) Load(ctx context.Context, key string) (string, bool) { return "", false }
func (failingStore) Store(ctx context.Context, key, value string) bool { return false }

func TestSession_AutoConnectToleratesStoreFailure(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB2", "ACME,PSU-30,SN123,1.2")
	s := newSession(t, b, &lister{ports: []string{"/dev/ttyUSB2"}}, psuIdentity(nil), nil)

	assert.True(t, s.AutoConnect(context.Background(), failingStore{}, "port_psu"))
}

func TestSession_FaultClosesSession(t *testing.T) {
	b := newBench()
	tr := b.device("/dev/ttyUSB0", "ACME,PSU-30,SN123,1.2")
	s := newSession(t, b, nil, psuIdentity(nil), nil)
	require.True(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))

	tr.ReadErr = errors.New("device disconnected")
	_, ok, _ := s.Engine().Query(context.Background(), protocol.Text("*IDN?"), protocol.WarnAndContinue)
	assert.False(t, ok)
	assert.False(t, s.IsAlive())
	assert.Equal(t, discovery.StateClosed, s.State())
	assert.False(t, tr.IsOpen())

	_, err := s.Engine().Transact(context.Background(), protocol.Text("*IDN?"))
	assert.ErrorIs(t, err, protocol.ErrNotAlive)
}

func TestSession_ReconnectAfterClose(t *testing.T) {
	b := newBench()
	b.device("/dev/ttyUSB0", "ACME,PSU-30,SN123,1.2")
	s := newSession(t, b, nil, psuIdentity(nil), nil)

	require.True(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
	require.NoError(t, s.Close())
	assert.False(t, s.IsAlive())
	assert.True(t, s.ConnectAtPort(context.Background(), "/dev/ttyUSB0"))
}

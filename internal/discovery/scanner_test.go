package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"instrument-service/internal/model"
)

type brokenScanner struct{}

func (brokenScanner) Scan(ctx context.Context) ([]*DiscoveredPort, error) {
	return nil, errors.New("permission denied")
}
func (brokenScanner) GetScannerType() string               { return "broken" }
func (brokenScanner) ConnectionType() model.ConnectionType { return model.ConnectionTypeSerial }
func (brokenScanner) IsAvailable() bool                    { return true }

func TestScannerManager_ListPorts(t *testing.T) {
	sm := NewScannerManager(zaptest.NewLogger(t))
	sm.RegisterScanner(&StaticScanner{Name: "serial-a", Kind: model.ConnectionTypeSerial, Addresses: []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}})
	sm.RegisterScanner(brokenScanner{})
	sm.RegisterScanner(&StaticScanner{Name: "serial-b", Kind: model.ConnectionTypeSerial, Addresses: []string{"/dev/ttyUSB0", "/dev/ttyS0"}})
	sm.RegisterScanner(&StaticScanner{Kind: model.ConnectionTypeUDP, Addresses: []string{"192.168.1.20:1234"}})

	ports, err := sm.ListPorts(context.Background(), model.ConnectionTypeSerial)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB1", "/dev/ttyUSB0", "/dev/ttyS0"}, ports)

	ports, _ = sm.ListPorts(context.Background(), model.ConnectionTypeUDP)
	assert.Equal(t, []string{"192.168.1.20:1234"}, ports)
}

func TestScannerManager_ScanAll(t *testing.T) {
	sm := NewScannerManager(zaptest.NewLogger(t))
	sm.RegisterScanner(&StaticScanner{Kind: model.ConnectionTypeTCP, Addresses: []string{"10.0.0.2:5025"}})
	sm.RegisterScanner(&StaticScanner{Kind: model.ConnectionTypeUDP})
	sm.RegisterScanner(brokenScanner{})

	all, err := sm.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.ConnectionTypeTCP, all[0].ConnectionType)

	assert.Equal(t, []string{"static-TCP", "broken"}, sm.GetAvailableScanners())

	_, err = sm.ScanByType(context.Background(), "static-UDP")
	assert.Error(t, err)
	_, err = sm.ScanByType(context.Background(), "usb")
	assert.Error(t, err)
}

// pkg/driver/base.go
package driver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/store"
)

// Deps are the shared services a driver factory receives
type Deps struct {
	Transport config.TransportConfig
	Lister    discovery.PortLister
	// Factory replaces protocol.CreateTransport when set.
	Factory discovery.TransportFactory
	Logger  *zap.Logger
}

// SessionSpec is what a driver contributes to its session: wire defaults,
// codec, silent period and identity check
type SessionSpec struct {
	Settings     protocol.Settings
	Codec        protocol.Codec
	SilentPeriod time.Duration
	Identity     *discovery.Identity
	MaxReply     int
}

// Base implements the connection half of InstrumentDriver on top of a
// discovery.Session. Drivers embed it.
type Base struct {
	info    InstrumentInfo
	cfg     config.InstrumentConfig
	session *discovery.Session
	logger  *zap.Logger
}

// NewBase resolves the transport settings and creates the session
func NewBase(cfg config.InstrumentConfig, deps Deps, info InstrumentInfo, spec SessionSpec) (*Base, error) {
	connType, err := protocol.ParseConnectionType(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: %w", cfg.Name, err)
	}
	if spec.Codec == nil {
		return nil, fmt.Errorf("instrument %s: driver %s has no codec", cfg.Name, cfg.Driver)
	}

	settings := ResolveSettings(cfg, deps, connType, spec.Settings)

	info.Name = cfg.Name
	info.LongName = cfg.LongName
	info.Driver = cfg.Driver
	info.ConnectionType = connType
	if info.LongName == "" {
		info.LongName = cfg.Name
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []discovery.SessionOption{}
	if deps.Lister != nil {
		opts = append(opts, discovery.WithPortLister(deps.Lister))
	}
	if deps.Factory != nil {
		opts = append(opts, discovery.WithTransportFactory(deps.Factory))
	}

	session := discovery.NewSession(discovery.SessionConfig{
		Name:           cfg.Name,
		Driver:         cfg.Driver,
		ConnectionType: connType,
		Settings:       settings,
		Codec:          spec.Codec,
		SilentPeriod:   spec.SilentPeriod,
		Identity:       spec.Identity,
		MaxReply:       spec.MaxReply,
		Candidates:     cfg.Addresses,
	}, logger, opts...)

	return &Base{
		info:    info,
		cfg:     cfg,
		session: session,
		logger:  logger.With(zap.String("instrument", cfg.Name), zap.String("driver", cfg.Driver)),
	}, nil
}

// Info returns the instrument description
func (b *Base) Info() *InstrumentInfo {
	info := b.info
	return &info
}

// Session returns the connection session
func (b *Base) Session() *discovery.Session {
	return b.session
}

// Config returns the instrument configuration
func (b *Base) Config() config.InstrumentConfig {
	return b.cfg
}

// Logger returns the driver logger
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// Engine returns the transaction engine of the session
func (b *Base) Engine() *protocol.Engine {
	return b.session.Engine()
}

// Connect tries the persisted port first and scans otherwise
func (b *Base) Connect(ctx context.Context, kv store.KeyValueStore) bool {
	return b.session.AutoConnect(ctx, kv, b.cfg.Key())
}

// Close closes the session
func (b *Base) Close() error {
	return b.session.Close()
}

// ResolveSettings layers the instrument settings over the driver defaults
// and the transport section
func ResolveSettings(cfg config.InstrumentConfig, deps Deps, connType model.ConnectionType, defaults protocol.Settings) protocol.Settings {
	return SettingsFromSerial(cfg.Serial).
		Merge(defaults).
		Merge(TransportDefaults(deps.Transport, connType))
}

// SettingsFromSerial converts a serial configuration section
func SettingsFromSerial(c config.SerialPortConfig) protocol.Settings {
	return protocol.Settings{
		BaudRate:        c.BaudRate,
		Parity:          c.Parity,
		DataBits:        c.DataBits,
		StopBits:        c.StopBits,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		ReadTerminator:  c.ReadTerminator,
		WriteTerminator: c.WriteTerminator,
	}
}

// TransportDefaults returns the transport section defaults for connType
func TransportDefaults(t config.TransportConfig, connType model.ConnectionType) protocol.Settings {
	switch connType {
	case model.ConnectionTypeUDP:
		return protocol.Settings{ReadTimeout: t.UDP.ReadTimeout, WriteTimeout: t.UDP.WriteTimeout}
	case model.ConnectionTypeTCP:
		return protocol.Settings{ReadTimeout: t.TCP.ReadTimeout, WriteTimeout: t.TCP.WriteTimeout}
	case model.ConnectionTypeUSBTMC:
		return protocol.Settings{ReadTimeout: t.USB.Timeout, WriteTimeout: t.USB.Timeout}
	default:
		return SettingsFromSerial(t.Serial).Merge(protocol.DefaultSettings())
	}
}

// OptionFloat reads a numeric driver option
func OptionFloat(opts map[string]interface{}, name string, def float64) float64 {
	switch v := opts[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// OptionInt reads an integer driver option
func OptionInt(opts map[string]interface{}, name string, def int) int {
	return int(OptionFloat(opts, name, float64(def)))
}

// OptionString reads a string driver option
func OptionString(opts map[string]interface{}, name, def string) string {
	if v, ok := opts[name].(string); ok && v != "" {
		return v
	}
	return def
}

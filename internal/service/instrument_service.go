// internal/service/instrument_service.go
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/register"
	"instrument-service/internal/repository"
	"instrument-service/internal/store"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

var (
	// ErrInstrumentNotFound is returned for names missing from the configuration
	ErrInstrumentNotFound = errors.New("instrument not found")
	// ErrNotConnected is returned when an operation needs a live session
	ErrNotConnected = errors.New("instrument not connected")
	// ErrNotSupported is returned when the driver lacks the capability
	ErrNotSupported = errors.New("not supported by driver")
	// ErrConnectFailed is returned when no port yielded the instrument
	ErrConnectFailed = errors.New("instrument connect failed")
	// ErrRegisterNotFound is returned for addresses the driver does not map
	ErrRegisterNotFound = errors.New("register not found")
	// ErrInvalidRequest is returned for malformed raw transactions
	ErrInvalidRequest = errors.New("invalid request")
)

// managed is one configured instrument. mu serializes every call into the
// driver; view is the snapshot readers see without taking mu.
type managed struct {
	mu   sync.Mutex
	id   uuid.UUID
	cfg  config.InstrumentConfig
	drv  driver.InstrumentDriver
	view atomic.Pointer[model.Instrument]

	lastSeen *time.Time
	alive    bool
}

// RawRequest is a transaction sent through the instrument codec. Exactly
// one of Command (text) and Hex (bytes) is set.
type RawRequest struct {
	Command string `json:"command,omitempty"`
	Hex     string `json:"hex,omitempty"`
	// Expect is the exact reply length on the wire, when known.
	Expect int `json:"expect,omitempty"`
}

func (r *RawRequest) frame() (protocol.Frame, error) {
	switch {
	case r.Command != "" && r.Hex != "":
		return protocol.Frame{}, fmt.Errorf("%w: command and hex are exclusive", ErrInvalidRequest)
	case r.Hex != "":
		b, err := hex.DecodeString(r.Hex)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return protocol.Frame{Payload: b, Expect: r.Expect}, nil
	case r.Command != "":
		return protocol.Frame{Payload: []byte(r.Command), Expect: r.Expect}, nil
	default:
		return protocol.Frame{}, fmt.Errorf("%w: command or hex is required", ErrInvalidRequest)
	}
}

// RawReply is the decoded reply of a raw transaction
type RawReply struct {
	Text     string `json:"text"`
	Hex      string `json:"hex"`
	Duration string `json:"duration"`
}

// RegisterValue is one register read or written
type RegisterValue struct {
	Name    string `json:"name"`
	Address uint16 `json:"address"`
	Type    string `json:"type"`
	Value   int64  `json:"value"`
}

// PollResult is the outcome of a poll. State is returned even when some
// readings failed; failed readings are absent from it.
type PollResult struct {
	OK    bool        `json:"ok"`
	State interface{} `json:"state"`
}

// InstrumentService owns one driver per configured instrument and
// serializes calls into each of them
type InstrumentService struct {
	instruments *xsync.MapOf[string, *managed]
	names       []string
	kv          store.KeyValueStore
	bus         *EventBus
	events      repository.EventRepository
	config      *config.Config
	logger      *utils.ServiceLogger
	auditLogger *utils.AuditLogger
}

// NewInstrumentService creates a driver for every configured instrument.
// events may be nil.
func NewInstrumentService(
	cfg *config.Config,
	registry *internalDriver.Registry,
	deps driver.Deps,
	kv store.KeyValueStore,
	bus *EventBus,
	events repository.EventRepository,
	logger *zap.Logger,
) (*InstrumentService, error) {
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if deps.Transport == (config.TransportConfig{}) {
		deps.Transport = cfg.Transport
	}

	s := &InstrumentService{
		instruments: xsync.NewMapOf[string, *managed](),
		kv:          kv,
		bus:         bus,
		events:      events,
		config:      cfg,
		logger:      utils.NewServiceLogger(logger, "instrument-service"),
		auditLogger: utils.NewAuditLogger(logger),
	}

	for i := range cfg.Instruments {
		inst := cfg.Instruments[i]
		drv, err := registry.CreateDriver(&inst, deps)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", inst.Name, err)
		}
		m := &managed{id: uuid.New(), cfg: inst, drv: drv}
		m.view.Store(s.snapshot(m))
		s.instruments.Store(inst.Name, m)
		s.names = append(s.names, inst.Name)
	}

	s.logger.Info("Instruments configured", zap.Strings("instruments", s.names))
	return s, nil
}

func (s *InstrumentService) get(name string) (*managed, error) {
	m, ok := s.instruments.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentNotFound, name)
	}
	return m, nil
}

// with runs fn holding the instrument lock under the operation timeout, then
// refreshes the view and reports a lost session
func (s *InstrumentService) with(ctx context.Context, name string, fn func(ctx context.Context, m *managed) error) error {
	return s.withTimeout(ctx, name, s.config.App.OperationTimeout, fn)
}

func (s *InstrumentService) withTimeout(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context, m *managed) error) error {
	m, err := s.get(name)
	if err != nil {
		return err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = fn(ctx, m)
	s.observe(m)
	return err
}

// observe publishes a fault when a live session was lost and refreshes the
// view
func (s *InstrumentService) observe(m *managed) {
	session := m.drv.Session()
	alive := session.IsAlive()
	if alive {
		now := time.Now()
		m.lastSeen = &now
	} else if m.alive {
		data := map[string]interface{}{"address": session.Address()}
		if err := session.LastError(); err != nil {
			data["error"] = err.Error()
		}
		s.publish(model.EventInstrumentFault, m.cfg.Name, "ERROR", data)
	}
	m.alive = alive
	m.view.Store(s.snapshot(m))
}

func (s *InstrumentService) snapshot(m *managed) *model.Instrument {
	info := m.drv.Info()
	session := m.drv.Session()

	inst := &model.Instrument{
		ID:             m.id,
		Name:           info.Name,
		LongName:       info.LongName,
		Driver:         info.Driver,
		InstrumentType: info.InstrumentType,
		ConnectionType: info.ConnectionType,
		Address:        session.Address(),
		LastSeen:       m.lastSeen,
		State:          m.drv.State(),
	}

	switch session.State() {
	case discovery.StateAlive:
		inst.Status = model.InstrumentStatusOnline
	case discovery.StateOpening, discovery.StateValidating:
		inst.Status = model.InstrumentStatusConnecting
	default:
		inst.Status = model.InstrumentStatusOffline
		if err := session.LastError(); err != nil {
			inst.Status = model.InstrumentStatusError
		}
	}
	if err := session.LastError(); err != nil {
		msg := err.Error()
		inst.LastError = &msg
	}
	if eq, ok := m.drv.(driver.ErrorQueueDriver); ok {
		inst.ErrorQueue = eq.Errors()
	}
	return inst
}

func (s *InstrumentService) publish(eventType model.EventType, instrument, severity string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(model.NewInstrumentEvent(eventType, instrument, severity, data))
}

// List returns every configured instrument in configuration order
func (s *InstrumentService) List() []*model.Instrument {
	list := make([]*model.Instrument, 0, len(s.names))
	for _, name := range s.names {
		if m, ok := s.instruments.Load(name); ok {
			list = append(list, m.view.Load())
		}
	}
	return list
}

// Get returns one instrument
func (s *InstrumentService) Get(name string) (*model.Instrument, error) {
	m, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return m.view.Load(), nil
}

// Connect connects the instrument and runs its initialisation. With an
// address only that port is tried; otherwise the persisted port is tried
// first and the candidates are scanned.
func (s *InstrumentService) Connect(ctx context.Context, name, address string) (*model.Instrument, error) {
	var view *model.Instrument
	err := s.withTimeout(ctx, name, s.config.App.ScanTimeout, func(ctx context.Context, m *managed) error {
		opLogger := utils.NewOperationLogger(s.logger.Logger, "connect", uuid.NewString())
		opLogger.Start(zap.String("instrument", name), zap.String("address", address))

		var ok bool
		if address != "" {
			ok = m.drv.Session().ConnectAtPort(ctx, address)
			if ok && !s.kv.Store(ctx, m.cfg.Key(), address) {
				s.logger.Warn("Could not persist port", zap.String("instrument", name))
			}
		} else {
			ok = m.drv.Connect(ctx, s.kv)
		}
		if !ok {
			err := connectError(name, m.drv.Session())
			opLogger.Error(err)
			return err
		}

		begun := m.drv.Begin(ctx)
		if !begun {
			s.logger.Warn("Instrument initialisation incomplete", zap.String("instrument", name))
		}
		opLogger.Success(zap.Bool("initialised", begun))
		s.publish(model.EventInstrumentConnected, name, "INFO", map[string]interface{}{
			"address":     m.drv.Session().Address(),
			"initialised": begun,
		})
		return nil
	})
	if err != nil && !errors.Is(err, ErrConnectFailed) {
		return nil, err
	}
	view, _ = s.Get(name)
	return view, err
}

// Scan ignores the persisted port and scans the candidates
func (s *InstrumentService) Scan(ctx context.Context, name string) (*model.Instrument, error) {
	err := s.withTimeout(ctx, name, s.config.App.ScanTimeout, func(ctx context.Context, m *managed) error {
		session := m.drv.Session()
		if !session.ScanPorts(ctx) {
			return connectError(name, session)
		}
		if !s.kv.Store(ctx, m.cfg.Key(), session.Address()) {
			s.logger.Warn("Could not persist port", zap.String("instrument", name))
		}
		begun := m.drv.Begin(ctx)
		s.publish(model.EventInstrumentConnected, name, "INFO", map[string]interface{}{
			"address":     session.Address(),
			"initialised": begun,
			"scanned":     true,
		})
		return nil
	})
	if err != nil && !errors.Is(err, ErrConnectFailed) {
		return nil, err
	}
	view, _ := s.Get(name)
	return view, err
}

func connectError(name string, session *discovery.Session) error {
	if cause := session.LastError(); cause != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, name, cause)
	}
	return fmt.Errorf("%w: %s", ErrConnectFailed, name)
}

// Disconnect closes the instrument session
func (s *InstrumentService) Disconnect(ctx context.Context, name string) error {
	return s.with(ctx, name, func(ctx context.Context, m *managed) error {
		wasAlive := m.drv.Session().IsAlive()
		if err := m.drv.Close(); err != nil {
			s.logger.Warn("Close failed", zap.String("instrument", name), zap.Error(err))
		}
		m.alive = false
		if wasAlive {
			s.publish(model.EventInstrumentDisconnected, name, "INFO", nil)
		}
		return nil
	})
}

// Alive reports whether the instrument session is alive
func (s *InstrumentService) Alive(name string) (bool, error) {
	m, err := s.get(name)
	if err != nil {
		return false, err
	}
	return m.view.Load().IsOnline(), nil
}

// Poll refreshes the instrument readings
func (s *InstrumentService) Poll(ctx context.Context, name string) (*PollResult, error) {
	var result *PollResult
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		if !m.drv.Session().IsAlive() {
			return fmt.Errorf("%w: %s", ErrNotConnected, name)
		}
		ok := m.drv.Poll(ctx)
		state := m.drv.State()
		result = &PollResult{OK: ok, State: state}

		severity := "INFO"
		if !ok {
			severity = "WARNING"
		}
		s.publish(model.EventReading, name, severity, map[string]interface{}{"ok": ok, "state": state})
		s.publishErrors(m)
		return nil
	})
	return result, err
}

// Begin reruns the instrument initialisation
func (s *InstrumentService) Begin(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		if !m.drv.Session().IsAlive() {
			return fmt.Errorf("%w: %s", ErrNotConnected, name)
		}
		ok = m.drv.Begin(ctx)
		return nil
	})
	return ok, err
}

func (s *InstrumentService) publishErrors(m *managed) {
	eq, ok := m.drv.(driver.ErrorQueueDriver)
	if !ok {
		return
	}
	if errs := eq.Errors(); len(errs) > 0 {
		s.publish(model.EventDeviceErrors, m.cfg.Name, "WARNING", map[string]interface{}{"errors": errs})
	}
}

// Query runs one raw transaction through the instrument codec
func (s *InstrumentService) Query(ctx context.Context, name string, req *RawRequest) (*RawReply, error) {
	f, err := req.frame()
	if err != nil {
		return nil, err
	}

	var reply *RawReply
	err = s.with(ctx, name, func(ctx context.Context, m *managed) error {
		engine, err := liveEngine(name, m)
		if err != nil {
			return err
		}
		start := time.Now()
		b, err := engine.Transact(ctx, f)
		if err != nil {
			return fmt.Errorf("query %s: %w", name, err)
		}
		reply = &RawReply{Text: string(b), Hex: hex.EncodeToString(b), Duration: time.Since(start).String()}
		return nil
	})
	return reply, err
}

// Write sends a raw message without reading a reply
func (s *InstrumentService) Write(ctx context.Context, name string, req *RawRequest) error {
	f, err := req.frame()
	if err != nil {
		return err
	}

	return s.with(ctx, name, func(ctx context.Context, m *managed) error {
		engine, err := liveEngine(name, m)
		if err != nil {
			return err
		}
		ok, err := engine.Write(ctx, f.Payload, protocol.Raise)
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("write %s: %w", name, driver.ErrCommandFailed)
		}
		return nil
	})
}

func liveEngine(name string, m *managed) (*protocol.Engine, error) {
	session := m.drv.Session()
	if !session.IsAlive() || session.Engine() == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	return session.Engine(), nil
}

// Commands lists the operator commands of the instrument
func (s *InstrumentService) Commands(name string) ([]string, error) {
	m, err := s.get(name)
	if err != nil {
		return nil, err
	}
	cd, ok := m.drv.(driver.CommandDriver)
	if !ok {
		return nil, fmt.Errorf("%w: commands", ErrNotSupported)
	}
	return cd.Commands(), nil
}

// Execute runs an operator command
func (s *InstrumentService) Execute(ctx context.Context, name string, cmd *driver.Command, clientIP string) (*driver.CommandResult, error) {
	var result *driver.CommandResult
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		cd, ok := m.drv.(driver.CommandDriver)
		if !ok {
			return fmt.Errorf("%w: commands", ErrNotSupported)
		}
		if !m.drv.Session().IsAlive() {
			return fmt.Errorf("%w: %s", ErrNotConnected, name)
		}

		var err error
		result, err = cd.Execute(ctx, cmd)
		s.auditLogger.LogCommand(name, cmd.Name, clientIP, err == nil)
		data := map[string]interface{}{"command": cmd.Name, "args": cmd.Args, "success": err == nil}
		if err != nil {
			data["error"] = err.Error()
		}
		s.publish(model.EventCommand, name, "INFO", data)
		return err
	})
	return result, err
}

// Registers lists the registers the instrument driver maps
func (s *InstrumentService) Registers(name string) ([]register.Register, error) {
	m, err := s.get(name)
	if err != nil {
		return nil, err
	}
	rd, ok := m.drv.(driver.RegisterDriver)
	if !ok {
		return nil, fmt.Errorf("%w: registers", ErrNotSupported)
	}
	regs := append([]register.Register(nil), rd.Registers()...)
	sort.Slice(regs, func(i, j int) bool { return regs[i].Address < regs[j].Address })
	return regs, nil
}

func registerClient(name string, m *managed, address uint16) (*register.Client, register.Register, error) {
	rd, ok := m.drv.(driver.RegisterDriver)
	if !ok {
		return nil, register.Register{}, fmt.Errorf("%w: registers", ErrNotSupported)
	}
	var reg register.Register
	found := false
	for _, r := range rd.Registers() {
		if r.Address == address {
			reg, found = r, true
			break
		}
	}
	if !found {
		return nil, register.Register{}, fmt.Errorf("%w: 0x%04X", ErrRegisterNotFound, address)
	}
	if !m.drv.Session().IsAlive() {
		return nil, reg, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	client := rd.RegisterClient()
	if client == nil {
		return nil, reg, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	return client, reg, nil
}

// ReadRegister reads one mapped register
func (s *InstrumentService) ReadRegister(ctx context.Context, name string, address uint16) (*RegisterValue, error) {
	var value *RegisterValue
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		client, reg, err := registerClient(name, m, address)
		if err != nil {
			return err
		}
		v, err := client.ReadValue(ctx, reg)
		if err != nil {
			return fmt.Errorf("read %s: %w", reg, err)
		}
		value = &RegisterValue{Name: reg.Name, Address: reg.Address, Type: reg.Type.String(), Value: v}
		return nil
	})
	return value, err
}

// WriteRegister writes one mapped register and returns the echoed value
func (s *InstrumentService) WriteRegister(ctx context.Context, name string, address uint16, v int64, clientIP string) (*RegisterValue, error) {
	var value *RegisterValue
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		client, reg, err := registerClient(name, m, address)
		if err != nil {
			return err
		}
		echoed, err := client.WriteValue(ctx, reg, v)
		s.auditLogger.LogRegisterWrite(name, address, v, clientIP, err == nil)
		if err != nil {
			return fmt.Errorf("write %s: %w", reg, err)
		}
		value = &RegisterValue{Name: reg.Name, Address: reg.Address, Type: reg.Type.String(), Value: echoed}
		return nil
	})
	return value, err
}

// Errors returns the collected device errors. With drain the device queue
// is read first.
func (s *InstrumentService) Errors(ctx context.Context, name string, drain bool) ([]string, error) {
	var errs []string
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		eq, ok := m.drv.(driver.ErrorQueueDriver)
		if !ok {
			return fmt.Errorf("%w: error queue", ErrNotSupported)
		}
		if drain {
			if !m.drv.Session().IsAlive() {
				return fmt.Errorf("%w: %s", ErrNotConnected, name)
			}
			eq.DrainErrors(ctx)
			s.publishErrors(m)
		}
		errs = eq.Errors()
		return nil
	})
	return errs, err
}

// AcknowledgeErrors clears the collected device errors and returns how many
// there were
func (s *InstrumentService) AcknowledgeErrors(ctx context.Context, name, clientIP string) (int, error) {
	var cleared int
	err := s.with(ctx, name, func(ctx context.Context, m *managed) error {
		eq, ok := m.drv.(driver.ErrorQueueDriver)
		if !ok {
			return fmt.Errorf("%w: error queue", ErrNotSupported)
		}
		cleared = len(eq.Errors())
		eq.AcknowledgeErrors()
		s.auditLogger.LogErrorAcknowledge(name, clientIP, cleared)
		return nil
	})
	return cleared, err
}

// Events returns stored events, newest first
func (s *InstrumentService) Events(ctx context.Context, filter *repository.EventFilter) ([]*model.InstrumentEvent, error) {
	if s.events == nil {
		return nil, fmt.Errorf("%w: event history", ErrNotSupported)
	}
	return s.events.List(ctx, filter)
}

// Stats returns the transaction statistics of the instrument engine
func (s *InstrumentService) Stats(name string) (*protocol.EngineStats, error) {
	m, err := s.get(name)
	if err != nil {
		return nil, err
	}
	engine := m.drv.Session().Engine()
	if engine == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	stats := engine.Stats()
	return &stats, nil
}

// ConnectAll connects every instrument in configuration order. Failures are
// logged and do not stop the others.
func (s *InstrumentService) ConnectAll(ctx context.Context) int {
	connected := 0
	for _, name := range s.names {
		if _, err := s.Connect(ctx, name, ""); err != nil {
			s.logger.Warn("Instrument not connected at startup", zap.String("instrument", name), zap.Error(err))
			continue
		}
		connected++
	}
	s.logger.Info("Startup connect finished", zap.Int("connected", connected), zap.Int("configured", len(s.names)))
	return connected
}

// CloseAll closes every session
func (s *InstrumentService) CloseAll(ctx context.Context) {
	for _, name := range s.names {
		if err := s.Disconnect(ctx, name); err != nil {
			s.logger.Warn("Disconnect failed", zap.String("instrument", name), zap.Error(err))
		}
	}
}

// internal/discovery/session.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/store"
	"instrument-service/internal/utils"
)

// State is the connection state of a Session
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateValidating
	StateAlive
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateValidating:
		return "VALIDATING"
	case StateAlive:
		return "ALIVE"
	default:
		return "CLOSED"
	}
}

// IdentityQuery performs the single identity transaction on a freshly
// opened engine and returns the broad (device family) and specific (unit)
// replies.
type IdentityQuery func(ctx context.Context, engine *protocol.Engine) (broad, specific interface{}, err error)

// Identity validates the device behind a freshly opened transport. Specific
// is only compared when it is not nil.
type Identity struct {
	Query    IdentityQuery
	Broad    interface{}
	Specific interface{}
}

// check runs the query and compares both replies
func (id *Identity) check(ctx context.Context, engine *protocol.Engine) error {
	broad, specific, err := id.Query(ctx, engine)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(broad, id.Broad) {
		return fmt.Errorf("%w: got %v, expected %v", protocol.ErrIdentityMismatch, broad, id.Broad)
	}
	if id.Specific != nil && !reflect.DeepEqual(specific, id.Specific) {
		return fmt.Errorf("%w: unit %v, expected %v", protocol.ErrIdentityMismatch, specific, id.Specific)
	}
	return nil
}

// TransportFactory creates an unopened transport
type TransportFactory func(connType model.ConnectionType, address string, settings protocol.Settings, logger *zap.Logger) (protocol.Transport, error)

// SessionConfig describes how a Session reaches its device
type SessionConfig struct {
	Name           string
	Driver         string
	ConnectionType model.ConnectionType
	Settings       protocol.Settings
	Codec          protocol.Codec
	SilentPeriod   time.Duration
	Identity       *Identity
	// MaxReply caps one reply in bytes; zero keeps the engine default.
	MaxReply int
	// Candidates are scanned before the addresses the PortLister reports.
	Candidates []string
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithTransportFactory replaces protocol.CreateTransport
func WithTransportFactory(f TransportFactory) SessionOption {
	return func(s *Session) { s.factory = f }
}

// WithPortLister sets where ScanPorts looks for candidates
func WithPortLister(l PortLister) SessionOption {
	return func(s *Session) { s.lister = l }
}

// Session owns one transport and the engine running on it. Calls into a
// Session must be serialized by the caller, except State and Engine which
// are safe to call at any time.
type Session struct {
	cfg     SessionConfig
	factory TransportFactory
	lister  PortLister
	logger  *utils.InstrumentLogger

	state     atomic.Int32
	transport protocol.Transport
	engine    atomic.Pointer[protocol.Engine]
	address   string
	lastErr   error
}

// NewSession creates a closed session
func NewSession(cfg SessionConfig, logger *zap.Logger, opts ...SessionOption) *Session {
	s := &Session{
		cfg:     cfg,
		factory: protocol.CreateTransport,
		logger:  utils.NewInstrumentLogger(logger, cfg.Name, cfg.Driver),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the display name
func (s *Session) Name() string {
	return s.cfg.Name
}

// Config returns the session configuration
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// State returns the connection state
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsAlive reports whether the session passed open and identity validation
// and no I/O fault closed it since
func (s *Session) IsAlive() bool {
	return s.State() == StateAlive && s.transport != nil && s.transport.IsOpen()
}

// Engine returns the transaction engine of the last successful connect, or
// nil before any
func (s *Session) Engine() *protocol.Engine {
	return s.engine.Load()
}

// Address returns the address of the last successful connect
func (s *Session) Address() string {
	return s.address
}

// LastError returns why the last connect attempt or transaction failed
func (s *Session) LastError() error {
	return s.lastErr
}

// ConnectAtPort opens address and validates the identity. Any failure
// closes the transport and returns false.
func (s *Session) ConnectAtPort(ctx context.Context, address string) bool {
	return s.connectAtPort(ctx, address, s.logger.Logger)
}

func (s *Session) connectAtPort(ctx context.Context, address string, logger *zap.Logger) bool {
	s.Close()
	s.state.Store(int32(StateOpening))

	tr, err := s.factory(s.cfg.ConnectionType, address, s.cfg.Settings, logger)
	if err != nil {
		return s.fail(logger, "open", address, err)
	}
	if err := tr.Open(ctx); err != nil {
		tr.Close()
		return s.fail(logger, "open", address, err)
	}

	opts := []protocol.EngineOption{
		protocol.WithSilentPeriod(s.cfg.SilentPeriod),
		protocol.WithFaultHandler(s.onFault),
	}
	if s.cfg.MaxReply > 0 {
		opts = append(opts, protocol.WithMaxReply(s.cfg.MaxReply))
	}
	engine := protocol.NewEngine(tr, s.cfg.Codec, logger, opts...)
	s.transport = tr
	s.engine.Store(engine)

	if s.cfg.Identity != nil {
		s.state.Store(int32(StateValidating))
		start := time.Now()
		if err := s.cfg.Identity.check(ctx, engine); err != nil {
			s.closeTransport()
			return s.fail(logger, "validate", address, err)
		}
		s.logger.LogTransaction("identify", time.Since(start), true)
	}

	s.address = address
	s.lastErr = nil
	s.state.Store(int32(StateAlive))
	logger.Info("Instrument connected", zap.String("address", address))
	return true
}

func (s *Session) fail(logger *zap.Logger, action, address string, err error) bool {
	s.lastErr = err
	s.state.Store(int32(StateClosed))

	fields := []zap.Field{zap.String("action", action), zap.String("address", address), zap.Error(err)}
	if errors.Is(err, protocol.ErrIdentityMismatch) || protocol.IsTimeout(err) {
		logger.Warn("Connect attempt failed", fields...)
	} else {
		logger.Error("Connect attempt failed", fields...)
	}
	return false
}

// ScanPorts tries every candidate in order until one connects. Attempts are
// not logged individually.
func (s *Session) ScanPorts(ctx context.Context) bool {
	candidates := s.candidates(ctx)
	silent := zap.NewNop()

	for _, address := range candidates {
		if ctx.Err() != nil {
			break
		}
		if s.connectAtPort(ctx, address, silent) {
			s.Engine().SetLogger(s.logger.Logger)
			s.logger.LogConnection("scan", address, true, nil)
			return true
		}
	}

	s.logger.Warn("No instrument found",
		zap.Int("candidates", len(candidates)),
		zap.String("connection_type", string(s.cfg.ConnectionType)),
	)
	return false
}

func (s *Session) candidates(ctx context.Context) []string {
	seen := make(map[string]bool)
	var list []string
	add := func(addrs []string) {
		for _, a := range addrs {
			if a != "" && !seen[a] {
				seen[a] = true
				list = append(list, a)
			}
		}
	}

	add(s.cfg.Candidates)
	if s.lister != nil {
		ports, err := s.lister.ListPorts(ctx, s.cfg.ConnectionType)
		if err != nil {
			s.logger.Warn("Port enumeration failed", zap.Error(err))
		}
		add(ports)
	}
	return list
}

// AutoConnect tries the port persisted under key first and scans only when
// that fails. The winning port is persisted again.
func (s *Session) AutoConnect(ctx context.Context, kv store.KeyValueStore, key string) bool {
	if port, ok := kv.Load(ctx, key); ok {
		s.logger.Debug("Trying last known port", zap.String("address", port))
		if s.ConnectAtPort(ctx, port) {
			s.persist(ctx, kv, key)
			return true
		}
	}

	if !s.ScanPorts(ctx) {
		return false
	}
	s.persist(ctx, kv, key)
	return true
}

func (s *Session) persist(ctx context.Context, kv store.KeyValueStore, key string) {
	if !kv.Store(ctx, key, s.address) {
		s.logger.Warn("Could not persist port", zap.String("key", key), zap.String("address", s.address))
	}
}

// onFault closes the session after an unrecoverable transport error
func (s *Session) onFault(err error) {
	if s.State() == StateAlive {
		s.logger.LogConnection("fault", s.address, false, err)
	}
	s.lastErr = err
	s.closeTransport()
	s.state.Store(int32(StateClosed))
}

// Close closes the transport. The engine stays readable but every further
// transaction fails with protocol.ErrNotAlive.
func (s *Session) Close() error {
	if engine := s.Engine(); engine != nil && s.State() == StateAlive {
		st := engine.Stats()
		s.logger.LogHealth(st.Transactions, st.Timeouts, st.Failures, st.AverageLatency)
	}
	err := s.closeTransport()
	s.state.Store(int32(StateClosed))
	return err
}

func (s *Session) closeTransport() error {
	if s.transport == nil || !s.transport.IsOpen() {
		return nil
	}
	return s.transport.Close()
}

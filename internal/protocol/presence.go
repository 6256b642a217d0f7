// internal/protocol/presence.go
package protocol

import (
	"bytes"
	"context"

	"go.uber.org/zap"
)

// Presence is the outcome of probing one address on a multidrop bus
type Presence int

const (
	Present Presence = iota
	AbsentTimeout
	IOError
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case AbsentTimeout:
		return "absent"
	default:
		return "io_error"
	}
}

// ProbeResult is the presence of one bus address
type ProbeResult struct {
	Address  string   `json:"address"`
	Presence Presence `json:"presence"`
	Reply    []byte   `json:"-"`
}

// Probe sends f under the Raise policy and classifies the outcome.
func (e *Engine) Probe(ctx context.Context, f Frame) (Presence, []byte) {
	reply, ok, err := e.Query(ctx, f, Raise)
	switch {
	case ok:
		return Present, reply
	case IsTimeout(err):
		return AbsentTimeout, nil
	default:
		return IOError, nil
	}
}

// ScanAddresses probes every address in order. build returns the probe
// frame addressed to one device name.
func (e *Engine) ScanAddresses(ctx context.Context, addresses []string, build func(address string) Frame) []ProbeResult {
	results := make([]ProbeResult, 0, len(addresses))
	for _, addr := range addresses {
		if ctx.Err() != nil {
			break
		}
		presence, reply := e.Probe(ctx, build(addr))
		results = append(results, ProbeResult{Address: addr, Presence: presence, Reply: reply})
		if presence == Present {
			e.logger.Debug("Device present", zap.String("bus_address", addr))
		}
	}
	return results
}

// QueryCheck writes msg once and then receives up to attempts replies,
// succeeding on the first that starts with prefix. Datagram transports
// may deliver stale or unrelated replies first.
func (e *Engine) QueryCheck(ctx context.Context, msg []byte, prefix []byte, attempts int) ([]byte, bool) {
	if ok, _ := e.Write(ctx, msg, WarnAndContinue); !ok {
		return nil, false
	}
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		reply, err := e.Receive(ctx, 0)
		if err != nil {
			if !IsTimeout(err) {
				e.logger.Warn("Check reply failed", zap.Error(err))
			}
			continue
		}
		if bytes.HasPrefix(reply, prefix) {
			return reply, true
		}
		e.logger.Debug("Ignoring unexpected reply",
			zap.String("reply", printable(reply)),
			zap.Int("attempt", i+1),
		)
	}

	e.logger.Warn("No matching reply",
		zap.String("message", printable(msg)),
		zap.String("expected_prefix", printable(prefix)),
		zap.Int("attempts", attempts),
	)
	return nil, false
}

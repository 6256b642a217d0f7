// internal/protocol/error_queue.go
package protocol

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const defaultDrainLimit = 32

// ErrorQueue collects device-reported error strings, popped one at a time
// by a query command until the device answers with its no-error sentinel.
// Entries stay until Acknowledge is called.
type ErrorQueue struct {
	Command string
	NoError func(reply string) bool
	// Clean rewrites a popped entry before it is stored; optional.
	Clean func(reply string) string
	Limit int

	entries []string
}

// NewErrorQueue creates a queue drained with command
func NewErrorQueue(command string, noError func(string) bool) *ErrorQueue {
	return &ErrorQueue{Command: command, NoError: noError, Limit: defaultDrainLimit}
}

// SCPINoError matches the SCPI `+0,"No error"` reply and its variants
func SCPINoError(reply string) bool {
	r := strings.TrimSpace(reply)
	return strings.HasPrefix(r, "+0,") || strings.HasPrefix(r, "0,") || r == "0" || r == "+0"
}

// Drain pops errors until the sentinel. It returns false when a query
// fails or the limit is reached; entries read so far are kept.
func (q *ErrorQueue) Drain(ctx context.Context, e *Engine) bool {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultDrainLimit
	}

	for i := 0; i < limit; i++ {
		reply, ok, _ := e.QueryString(ctx, q.Command, WarnAndContinue)
		if !ok {
			return false
		}
		if q.NoError(reply) {
			return true
		}
		if q.Clean != nil {
			reply = q.Clean(reply)
		}
		q.entries = append(q.entries, reply)
	}

	e.logger.Warn("Error queue did not empty", zap.Int("limit", limit))
	return false
}

// Entries returns a copy of the collected errors
func (q *ErrorQueue) Entries() []string {
	out := make([]string, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of collected errors
func (q *ErrorQueue) Len() int {
	return len(q.entries)
}

// Acknowledge clears the collected errors
func (q *ErrorQueue) Acknowledge() {
	q.entries = nil
}

// pkg/driver/interfaces.go
package driver

import (
	"context"

	"instrument-service/internal/discovery"
	"instrument-service/internal/register"
	"instrument-service/internal/store"
)

// InstrumentDriver is the interface every instrument driver implements.
// Calls into one driver must be serialized by the caller.
type InstrumentDriver interface {
	// Identification
	Info() *InstrumentInfo
	Session() *discovery.Session

	// Connection management
	Connect(ctx context.Context, kv store.KeyValueStore) bool
	Close() error

	// Begin initialises the device right after connecting. Every step is
	// attempted; the result is the AND of all steps.
	Begin(ctx context.Context) bool
	// Poll refreshes the measured state.
	Poll(ctx context.Context) bool
	// State returns a snapshot of the last known device state.
	State() interface{}
}

// CommandDriver extends InstrumentDriver with named operator commands
type CommandDriver interface {
	InstrumentDriver

	Commands() []string
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)
}

// RegisterDriver extends InstrumentDriver for register-mapped devices
type RegisterDriver interface {
	InstrumentDriver

	Registers() []register.Register
	RegisterClient() *register.Client
}

// ErrorQueueDriver extends InstrumentDriver for devices that queue errors
type ErrorQueueDriver interface {
	InstrumentDriver

	DrainErrors(ctx context.Context) bool
	Errors() []string
	AcknowledgeErrors()
}

// pkg/driver/types.go
package driver

import (
	"errors"
	"fmt"
	"time"

	"instrument-service/internal/model"
)

var (
	// ErrUnknownCommand is returned by Execute for commands the driver
	// does not implement.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidArgument is returned for missing or malformed arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrCommandFailed is returned when the device did not carry out a
	// command. The session logged the cause.
	ErrCommandFailed = errors.New("command failed")
)

// InstrumentInfo contains basic instrument information
type InstrumentInfo struct {
	Name           string               `json:"name"`
	LongName       string               `json:"long_name"`
	Driver         string               `json:"driver"`
	Manufacturer   string               `json:"manufacturer"`
	Model          string               `json:"model"`
	InstrumentType model.InstrumentType `json:"instrument_type"`
	ConnectionType model.ConnectionType `json:"connection_type"`
}

// Command is a named operator command with JSON arguments
type Command struct {
	Name string                 `json:"name" binding:"required"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Float returns a numeric argument
func (c *Command) Float(name string) (float64, error) {
	v, ok := c.Args[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidArgument, name)
	}
}

// Int returns an integer argument; fractional numbers are rejected
func (c *Command) Int(name string) (int64, error) {
	f, err := c.Float(name)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, name)
	}
	return int64(f), nil
}

// String returns a string argument
func (c *Command) String(name string) (string, error) {
	v, ok := c.Args[name].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, name)
	}
	return v, nil
}

// CommandResult represents the result of a command
type CommandResult struct {
	Command   string                 `json:"command"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Duration  string                 `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
}

// Result builds a CommandResult for cmd started at start
func Result(cmd *Command, start time.Time, data map[string]interface{}) *CommandResult {
	return &CommandResult{
		Command:   cmd.Name,
		Data:      data,
		Duration:  time.Since(start).String(),
		Timestamp: time.Now(),
	}
}

// Failed wraps ErrCommandFailed with the command name
func Failed(cmd *Command) error {
	return fmt.Errorf("%w: %s", ErrCommandFailed, cmd.Name)
}

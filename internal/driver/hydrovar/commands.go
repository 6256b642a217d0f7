// internal/driver/hydrovar/commands.go
package hydrovar

import (
	"context"
	"fmt"
	"time"

	"instrument-service/pkg/driver"
)

const (
	CmdStart           = "start"
	CmdStop            = "stop"
	CmdEnablePID       = "enable_pid"
	CmdDisablePID      = "disable_pid"
	CmdSetPressure     = "set_pressure"
	CmdSetFrequency    = "set_frequency"
	CmdSetMode         = "set_mode"
	CmdSetErrorReset   = "set_error_reset"
	CmdReadDiagnostics = "read_diagnostics"
	CmdReadStatus      = "read_status"
)

// Commands lists the operator commands
func (d *Driver) Commands() []string {
	return []string{
		CmdStart, CmdStop, CmdEnablePID, CmdDisablePID, CmdSetPressure,
		CmdSetFrequency, CmdSetMode, CmdSetErrorReset, CmdReadDiagnostics, CmdReadStatus,
	}
}

// Execute runs one operator command
func (d *Driver) Execute(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	start := time.Now()
	var ok bool

	switch cmd.Name {
	case CmdStart:
		ok = d.PumpStart(ctx)
	case CmdStop:
		ok = d.PumpStop(ctx)
	case CmdEnablePID:
		ok = d.EnablePressurePID(ctx)
	case CmdDisablePID:
		ok = d.DisablePressurePID(ctx)
	case CmdSetPressure:
		bar, err := cmd.Float("bar")
		if err != nil {
			return nil, err
		}
		ok = d.SetWantedPressure(ctx, bar)
	case CmdSetFrequency:
		hz, err := cmd.Float("hz")
		if err != nil {
			return nil, err
		}
		ok = d.SetWantedFrequency(ctx, hz)
	case CmdSetMode:
		name, err := cmd.String("mode")
		if err != nil {
			return nil, err
		}
		mode, known := ParseMode(name)
		if !known {
			return nil, fmt.Errorf("%w: unknown mode %q", driver.ErrInvalidArgument, name)
		}
		ok = d.SetMode(ctx, mode)
	case CmdSetErrorReset:
		enable, isBool := cmd.Args["enable"].(bool)
		if !isBool {
			return nil, fmt.Errorf("%w: enable must be a boolean", driver.ErrInvalidArgument)
		}
		ok = d.SetErrorReset(ctx, enable)
	case CmdReadDiagnostics:
		ok = d.ReadInverterDiagnostics(ctx)
	case CmdReadStatus:
		ok = d.ReadDeviceStatus(ctx)
		ok = d.ReadErrorStatus(ctx) && ok
	default:
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd.Name)
	}

	if !ok {
		return nil, driver.Failed(cmd)
	}
	return driver.Result(cmd, start, map[string]interface{}{"state": d.State()}), nil
}

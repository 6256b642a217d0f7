// internal/driver/thermoflex/commands.go
package thermoflex

import (
	"context"
	"fmt"
	"time"

	"instrument-service/pkg/driver"
)

// Commands accepted by Execute
const (
	CmdTurnOn      = "turn_on"
	CmdTurnOff     = "turn_off"
	CmdSetSetpoint = "set_setpoint"
	CmdReadState   = "read_state"
	CmdReadStatus  = "read_status"
	CmdReadAlarms  = "read_alarms"
	CmdReadDisplay = "read_display"
)

// Commands lists the operator commands
func (d *Driver) Commands() []string {
	return []string{
		CmdTurnOn, CmdTurnOff, CmdSetSetpoint, CmdReadState,
		CmdReadStatus, CmdReadAlarms, CmdReadDisplay,
	}
}

// Execute runs one operator command
func (d *Driver) Execute(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	start := time.Now()
	var ok bool

	switch cmd.Name {
	case CmdTurnOn:
		ok = d.TurnOn(ctx)
	case CmdTurnOff:
		ok = d.TurnOff(ctx)
	case CmdSetSetpoint:
		degC, err := cmd.Float("degc")
		if err != nil {
			return nil, err
		}
		ok = d.SendSetpoint(ctx, degC)
	case CmdReadState:
		ok = d.QueryState(ctx)
	case CmdReadStatus:
		ok = d.QueryStatusBits(ctx)
	case CmdReadAlarms:
		ok = d.QueryAlarmValues(ctx)
	case CmdReadDisplay:
		ok = d.QueryDisplay(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd.Name)
	}

	if !ok {
		return nil, driver.Failed(cmd)
	}
	return driver.Result(cmd, start, map[string]interface{}{"state": d.snap}), nil
}

// internal/driver/scpi/commands.go
package scpi

import (
	"context"
	"fmt"
	"time"

	"instrument-service/pkg/driver"
)

// Commands accepted by Execute
const (
	CmdSetVoltage      = "set_voltage"
	CmdSetCurrent      = "set_current"
	CmdSetOVP          = "set_ovp"
	CmdSetOCP          = "set_ocp"
	CmdOutputOn        = "output_on"
	CmdOutputOff       = "output_off"
	CmdClearProtection = "clear_protection"
	CmdMeasure         = "measure"
	CmdReset           = "reset"
	CmdQuery           = "query"
	CmdWrite           = "write"
	CmdReadErrors      = "read_errors"
	CmdAckErrors       = "acknowledge_errors"
)

var psuCommands = map[string]bool{
	CmdSetVoltage:      true,
	CmdSetCurrent:      true,
	CmdSetOVP:          true,
	CmdSetOCP:          true,
	CmdOutputOn:        true,
	CmdOutputOff:       true,
	CmdClearProtection: true,
	CmdMeasure:         true,
}

// Commands lists the operator commands. The source commands are only
// offered for power supplies.
func (d *Driver) Commands() []string {
	cmds := []string{CmdReset, CmdQuery, CmdWrite, CmdReadErrors, CmdAckErrors}
	if d.psu {
		cmds = append(cmds,
			CmdSetVoltage, CmdSetCurrent, CmdSetOVP, CmdSetOCP,
			CmdOutputOn, CmdOutputOff, CmdClearProtection, CmdMeasure,
		)
	}
	return cmds
}

// Execute runs one operator command
func (d *Driver) Execute(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	start := time.Now()
	if psuCommands[cmd.Name] && !d.psu {
		return nil, fmt.Errorf("%w: %s needs a power supply", driver.ErrUnknownCommand, cmd.Name)
	}

	var ok bool
	data := map[string]interface{}{}

	switch cmd.Name {
	case CmdSetVoltage, CmdSetCurrent, CmdSetOVP:
		value, err := cmd.Float("value")
		if err != nil {
			return nil, err
		}
		if value < 0 {
			return nil, fmt.Errorf("%w: value must not be negative", driver.ErrInvalidArgument)
		}
		switch cmd.Name {
		case CmdSetVoltage:
			ok = d.SetVoltage(ctx, value)
		case CmdSetCurrent:
			ok = d.SetCurrent(ctx, value)
		default:
			ok = d.SetOVPLevel(ctx, value)
		}
	case CmdSetOCP:
		enable, isBool := cmd.Args["enable"].(bool)
		if !isBool {
			return nil, fmt.Errorf("%w: enable must be a boolean", driver.ErrInvalidArgument)
		}
		ok = d.SetOCP(ctx, enable)
	case CmdOutputOn:
		ok = d.SetOutput(ctx, true)
	case CmdOutputOff:
		ok = d.SetOutput(ctx, false)
	case CmdClearProtection:
		ok = d.ClearProtection(ctx)
	case CmdMeasure:
		ok = d.Measure(ctx)
	case CmdReset:
		ok = d.Reset(ctx)
	case CmdQuery:
		text, err := cmd.String("command")
		if err != nil {
			return nil, err
		}
		var reply string
		reply, ok = d.Query(ctx, text)
		data["reply"] = reply
	case CmdWrite:
		text, err := cmd.String("command")
		if err != nil {
			return nil, err
		}
		ok = d.Write(ctx, text)
	case CmdReadErrors:
		ok = d.DrainErrors(ctx)
	case CmdAckErrors:
		d.AcknowledgeErrors()
		ok = true
	default:
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd.Name)
	}

	if !ok {
		return nil, driver.Failed(cmd)
	}
	data["state"] = d.State()
	return driver.Result(cmd, start, data), nil
}

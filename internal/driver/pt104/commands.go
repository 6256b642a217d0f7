// internal/driver/pt104/commands.go
package pt104

import (
	"context"
	"fmt"
	"time"

	"instrument-service/pkg/driver"
)

// Commands accepted by Execute
const (
	CmdSetMains     = "set_mains"
	CmdSetChannels  = "set_channels"
	CmdReadEeprom   = "read_eeprom"
	CmdKeepAlive    = "keep_alive"
	CmdReadChannels = "read_channels"
)

// Commands lists the operator commands
func (d *Driver) Commands() []string {
	return []string{CmdSetMains, CmdSetChannels, CmdReadEeprom, CmdKeepAlive, CmdReadChannels}
}

// Execute runs one operator command
func (d *Driver) Execute(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	start := time.Now()
	var ok bool

	switch cmd.Name {
	case CmdSetMains:
		hz, err := cmd.Int("hz")
		if err != nil {
			return nil, err
		}
		if hz != 50 && hz != 60 {
			return nil, fmt.Errorf("%w: hz must be 50 or 60", driver.ErrInvalidArgument)
		}
		ok = d.SetMainsRejection(ctx, int(hz))
	case CmdSetChannels:
		list, err := cmd.String("channels")
		if err != nil {
			return nil, err
		}
		enabled, err := parseChannels(list)
		if err != nil {
			return nil, err
		}
		gainList, _ := cmd.Args["high_gain"].(string)
		gain, err := parseChannels(gainList)
		if err != nil {
			return nil, err
		}
		ok = d.ConfigureChannels(ctx, enabled, gain)
	case CmdReadEeprom:
		ok = d.ReadEeprom(ctx)
	case CmdKeepAlive:
		ok = d.KeepAlive(ctx)
	case CmdReadChannels:
		ok = d.Poll(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd.Name)
	}

	if !ok {
		return nil, driver.Failed(cmd)
	}
	return driver.Result(cmd, start, map[string]interface{}{"state": d.snap}), nil
}

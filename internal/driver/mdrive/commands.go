// internal/driver/mdrive/commands.go
package mdrive

import (
	"context"
	"fmt"
	"time"

	"instrument-service/pkg/driver"
)

// Commands accepted by Execute. Every command but read_state and scan
// takes a motor argument with the device name.
const (
	CmdMoveAbsolute = "move_absolute"
	CmdMoveRelative = "move_relative"
	CmdMoveToAngle  = "move_to_angle"
	CmdSlew         = "slew"
	CmdStop         = "stop"
	CmdSetPosition  = "set_position"
	CmdExecute      = "execute"
	CmdReadState    = "read_state"
	CmdScan         = "scan"
)

// Commands lists the operator commands
func (d *Driver) Commands() []string {
	return []string{
		CmdMoveAbsolute, CmdMoveRelative, CmdMoveToAngle, CmdSlew, CmdStop,
		CmdSetPosition, CmdExecute, CmdReadState, CmdScan,
	}
}

// Execute runs one operator command
func (d *Driver) Execute(ctx context.Context, cmd *driver.Command) (*driver.CommandResult, error) {
	if !d.knows(cmd.Name) {
		return nil, fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd.Name)
	}
	start := time.Now()
	data := map[string]interface{}{}

	switch cmd.Name {
	case CmdReadState:
		if !d.Poll(ctx) {
			return nil, driver.Failed(cmd)
		}
	case CmdScan:
		data["found"] = d.Scan(ctx)
	default:
		addr, err := cmd.String("motor")
		if err != nil {
			return nil, err
		}
		if err := d.executeMotion(ctx, cmd, addr, data); err != nil {
			return nil, err
		}
	}

	data["state"] = d.State()
	return driver.Result(cmd, start, data), nil
}

func (d *Driver) knows(name string) bool {
	for _, c := range d.Commands() {
		if c == name {
			return true
		}
	}
	return false
}

func (d *Driver) executeMotion(ctx context.Context, cmd *driver.Command, addr string, data map[string]interface{}) error {
	switch cmd.Name {
	case CmdMoveAbsolute:
		pos, err := cmd.Int("position")
		if err != nil {
			return err
		}
		return d.MoveAbsolute(ctx, addr, pos)
	case CmdMoveRelative:
		steps, err := cmd.Int("steps")
		if err != nil {
			return err
		}
		return d.MoveRelative(ctx, addr, steps)
	case CmdMoveToAngle:
		deg, err := cmd.Float("degrees")
		if err != nil {
			return err
		}
		steps, err := d.MoveToAngle(ctx, addr, deg)
		data["steps"] = steps
		return err
	case CmdSlew:
		v, err := cmd.Int("velocity")
		if err != nil {
			return err
		}
		return d.Slew(ctx, addr, v)
	case CmdStop:
		return d.Stop(ctx, addr)
	case CmdSetPosition:
		pos, err := cmd.Int("position")
		if err != nil {
			return err
		}
		return d.SetPosition(ctx, addr, pos)
	case CmdExecute:
		label, err := cmd.String("label")
		if err != nil {
			return err
		}
		if _, err := d.motor(addr); err != nil {
			return err
		}
		if !d.ExecuteSubroutine(ctx, addr, label) {
			return driver.Failed(cmd)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", driver.ErrUnknownCommand, cmd.Name)
	}
}

// internal/driver/pt104/pt104.go
package pt104

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/pkg/driver"
)

// DriverName is the registry key of this driver
const DriverName = "pt104"

const (
	defaultAddress = "10.10.100.2:1234"
	// checkAttempts is how many datagrams a request waits through for its
	// acknowledgement
	checkAttempts = 3
	numChannels   = 4
)

// Request bytes
const (
	reqMains     = 0x30
	reqConvert   = 0x31
	reqEeprom    = 0x32
	reqKeepAlive = 0x34
)

// Channel is the acquisition setup and last reading of one input
type Channel struct {
	Enabled    bool                    `json:"enabled"`
	HighGain   bool                    `json:"high_gain"`
	Resistance model.Optional[float64] `json:"resistance_ohm"`
}

// Snapshot is what State returns
type Snapshot struct {
	Channels [numChannels]Channel   `json:"channels"`
	Eeprom   model.Optional[Eeprom] `json:"eeprom"`
	MainsHz  int                    `json:"mains_hz"`
}

// Driver reads a Picotech PT-104 over UDP. The device answers only to the
// host holding its lock.
type Driver struct {
	*driver.Base

	mainsHz int
	snap    Snapshot
}

var _ driver.CommandDriver = (*Driver)(nil)

// New creates a PT-104 driver. Options: mains_hz (50 or 60), channels and
// high_gain (comma separated channel numbers 1 to 4).
func New(cfg *config.InstrumentConfig, deps driver.Deps) (driver.InstrumentDriver, error) {
	c := *cfg
	if len(c.Addresses) == 0 {
		c.Addresses = []string{defaultAddress}
	}
	if c.Connection == "" {
		c.Connection = string(model.ConnectionTypeUDP)
	}

	d := &Driver{mainsHz: driver.OptionInt(c.Options, "mains_hz", 50)}
	if d.mainsHz != 50 && d.mainsHz != 60 {
		return nil, fmt.Errorf("instrument %s: mains_hz must be 50 or 60", c.Name)
	}
	enabled, err := parseChannels(driver.OptionString(c.Options, "channels", "1"))
	if err != nil {
		return nil, fmt.Errorf("instrument %s: channels: %w", c.Name, err)
	}
	gain, err := parseChannels(driver.OptionString(c.Options, "high_gain", "1"))
	if err != nil {
		return nil, fmt.Errorf("instrument %s: high_gain: %w", c.Name, err)
	}
	for i := range d.snap.Channels {
		d.snap.Channels[i].Enabled = enabled[i]
		d.snap.Channels[i].HighGain = gain[i]
	}
	d.snap.MainsHz = d.mainsHz

	base, err := driver.NewBase(c, deps, driver.InstrumentInfo{
		Manufacturer:   "Pico Technology",
		Model:          "PT-104",
		InstrumentType: model.InstrumentTypeTempLogger,
	}, driver.SessionSpec{
		Settings: protocol.Settings{
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Codec: &protocol.ASCIICodec{Raw: true},
		Identity: &discovery.Identity{
			Query: identityQuery,
			Broad: true,
		},
	})
	if err != nil {
		return nil, err
	}
	d.Base = base
	return d, nil
}

// parseChannels turns "1,3" into per-channel flags
func parseChannels(list string) ([numChannels]bool, error) {
	var flags [numChannels]bool
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		ch, err := strconv.Atoi(f)
		if err != nil || ch < 1 || ch > numChannels {
			return flags, fmt.Errorf("%w: channel %q", driver.ErrInvalidArgument, f)
		}
		flags[ch-1] = true
	}
	return flags, nil
}

// identityQuery acquires the lock
func identityQuery(ctx context.Context, engine *protocol.Engine) (interface{}, interface{}, error) {
	_, ok := engine.QueryCheck(ctx, []byte("lock\r"), []byte("Lock Success"), checkAttempts)
	return ok, nil, nil
}

// State returns a snapshot of the channels and the EEPROM data
func (d *Driver) State() interface{} {
	return d.snap
}

func (d *Driver) check(ctx context.Context, msg []byte, prefix string) ([]byte, bool) {
	engine := d.Engine()
	if engine == nil {
		return nil, false
	}
	return engine.QueryCheck(ctx, msg, []byte(prefix), checkAttempts)
}

// Begin locks the device, reads the EEPROM, sets the mains rejection and
// starts conversion on the configured channels
func (d *Driver) Begin(ctx context.Context) bool {
	ok := d.Lock(ctx)
	ok = d.ReadEeprom(ctx) && ok
	ok = d.SetMainsRejection(ctx, d.mainsHz) && ok
	return d.StartConversion(ctx) && ok
}

// Lock acquires the device for this host
func (d *Driver) Lock(ctx context.Context) bool {
	_, ok := d.check(ctx, []byte("lock\r"), "Lock Success")
	return ok
}

// KeepAlive renews the lock
func (d *Driver) KeepAlive(ctx context.Context) bool {
	_, ok := d.check(ctx, []byte{reqKeepAlive}, "Alive")
	if !ok {
		d.Logger().Warn("PT-104 is not alive anymore")
	}
	return ok
}

// SetMainsRejection selects 50 or 60 Hz filtering
func (d *Driver) SetMainsRejection(ctx context.Context, hz int) bool {
	var arg byte
	switch hz {
	case 50:
	case 60:
		arg = 0x01
	default:
		d.Logger().Warn("Unsupported mains frequency", zap.Int("hz", hz))
		return false
	}
	_, ok := d.check(ctx, []byte{reqMains, arg}, "Mains Changed")
	if ok {
		d.mainsHz = hz
		d.snap.MainsHz = hz
	}
	return ok
}

// ReadEeprom reads serial number, calibration and MAC address
func (d *Driver) ReadEeprom(ctx context.Context) bool {
	reply, ok := d.check(ctx, []byte{reqEeprom}, "Eeprom")
	if !ok {
		return false
	}
	e, err := ParseEeprom(reply)
	if err != nil {
		d.Logger().Warn("Malformed EEPROM reply", zap.Error(err))
		return false
	}
	d.snap.Eeprom.Set(e)
	d.Logger().Info("PT-104 EEPROM read",
		zap.String("serial", e.Serial),
		zap.String("calibration_date", e.CalibrationDate),
		zap.String("mac", e.MAC),
	)
	return true
}

// conversionByte packs the enable flags into bits 0 to 3 and the 21x gain
// flags into bits 4 to 7
func (d *Driver) conversionByte() byte {
	var b byte
	for i, ch := range d.snap.Channels {
		if ch.Enabled {
			b |= 1 << uint(i)
		}
		if ch.HighGain {
			b |= 1 << uint(i+4)
		}
	}
	return b
}

// StartConversion starts continuous acquisition with the current channel
// setup
func (d *Driver) StartConversion(ctx context.Context) bool {
	_, ok := d.check(ctx, []byte{reqConvert, d.conversionByte()}, "Converting")
	return ok
}

// ConfigureChannels replaces the channel setup and restarts conversion
func (d *Driver) ConfigureChannels(ctx context.Context, enabled, highGain [numChannels]bool) bool {
	for i := range d.snap.Channels {
		d.snap.Channels[i].Enabled = enabled[i]
		d.snap.Channels[i].HighGain = highGain[i]
		if !enabled[i] {
			d.snap.Channels[i].Resistance.Clear()
		}
	}
	return d.StartConversion(ctx)
}

// Poll sends a keep-alive and drains every datagram received until the
// socket times out, decoding the channel packets among them
func (d *Driver) Poll(ctx context.Context) bool {
	engine := d.Engine()
	if engine == nil {
		return false
	}
	if ok, _ := engine.Write(ctx, []byte{reqKeepAlive}, protocol.WarnAndContinue); !ok {
		return false
	}

	received := 0
	for ctx.Err() == nil {
		pkt, err := engine.Receive(ctx, 0)
		if err != nil {
			if !protocol.IsTimeout(err) {
				d.Logger().Warn("Receive failed", zap.Error(err))
				return false
			}
			break
		}
		received++

		if m, ok := ParseMeasurement(pkt); ok {
			d.store(m)
			continue
		}
		if strings.HasPrefix(string(pkt), "Alive") {
			continue
		}
		d.Logger().Warn("Unexpected datagram", zap.Binary("data", pkt))
		return false
	}

	if received == 0 {
		d.Logger().Warn("PT-104 sent nothing")
		return false
	}
	return true
}

func (d *Driver) store(m Measurement) {
	ch := &d.snap.Channels[m.Channel-1]
	e, known := d.snap.Eeprom.Get()
	if !known {
		ch.Resistance.Clear()
		return
	}
	r, valid := m.Resistance(e.Calibration[m.Channel-1])
	if !valid {
		ch.Resistance.Clear()
		return
	}
	ch.Resistance.Set(r.InexactFloat64())
}

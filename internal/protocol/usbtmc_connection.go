// internal/protocol/usbtmc_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// USBTMCConnection is a Transport to a USB test and measurement class
// instrument, the USB flavour of a VISA "USB0::vid::pid::serial::INSTR"
// resource
type USBTMCConnection struct {
	config   *USBTMCConfig
	ctx      *gousb.Context
	device   *gousb.Device
	cfg      *gousb.Config
	intf     *gousb.Interface
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	tag      byte
	logger   *zap.Logger
	mutex    sync.Mutex
	isOpen   bool
}

// NewUSBTMCConnection creates a new, unopened USBTMC connection
func NewUSBTMCConnection(config *USBTMCConfig, logger *zap.Logger) *USBTMCConnection {
	uc := &USBTMCConnection{config: config}
	uc.SetLogger(logger)
	return uc
}

// SetLogger replaces the logger, e.g. once a silent discovery attempt has
// succeeded
func (uc *USBTMCConnection) SetLogger(logger *zap.Logger) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	uc.logger = logger.With(
		zap.String("protocol", "usbtmc"),
		zap.String("vendor_id", formatUSBID(uc.config.VendorID)),
		zap.String("product_id", formatUSBID(uc.config.ProductID)),
	)
}

// Open finds the device, claims its USBTMC interface and bulk endpoints
func (uc *USBTMCConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	uc.ctx = gousb.NewContext()

	device, err := uc.findDevice()
	if err != nil {
		uc.release()
		return fmt.Errorf("%w: %s: %w", ErrTransportOpen, uc.Address(), err)
	}
	uc.device = device

	if err := device.SetAutoDetach(true); err != nil {
		uc.logger.Debug("Kernel driver auto-detach unavailable", zap.Error(err))
	}

	if err := uc.claimInterface(); err != nil {
		uc.release()
		return fmt.Errorf("%w: %s: %w", ErrTransportOpen, uc.Address(), err)
	}

	uc.tag = 0
	uc.isOpen = true

	uc.logger.Debug("USBTMC connection opened")
	return nil
}

func (uc *USBTMCConnection) findDevice() (*gousb.Device, error) {
	vid, pid := gousb.ID(uc.config.VendorID), gousb.ID(uc.config.ProductID)
	devices, err := uc.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var found *gousb.Device
	for _, d := range devices {
		if found == nil && uc.matchesSerial(d) {
			found = d
			continue
		}
		d.Close()
	}

	if found == nil {
		return nil, fmt.Errorf("no USB device %s:%s serial %q",
			formatUSBID(uc.config.VendorID), formatUSBID(uc.config.ProductID), uc.config.SerialNumber)
	}
	return found, nil
}

func (uc *USBTMCConnection) matchesSerial(d *gousb.Device) bool {
	if uc.config.SerialNumber == "" {
		return true
	}
	serial, err := d.SerialNumber()
	return err == nil && serial == uc.config.SerialNumber
}

// claimInterface locates the interface with class application / subclass
// USBTMC and its bulk endpoints
func (uc *USBTMCConnection) claimInterface() error {
	for cfgNum, cfgDesc := range uc.device.Desc.Configs {
		for _, ifDesc := range cfgDesc.Interfaces {
			for _, alt := range ifDesc.AltSettings {
				if alt.Class != gousb.ClassApplication || alt.SubClass != gousb.Class(usbtmcInterfaceSubClass) {
					continue
				}

				inNum, outNum := -1, -1
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						inNum = ep.Number
					} else {
						outNum = ep.Number
					}
				}
				if inNum < 0 || outNum < 0 {
					continue
				}

				cfg, err := uc.device.Config(cfgNum)
				if err != nil {
					return fmt.Errorf("failed to set configuration %d: %w", cfgNum, err)
				}
				intf, err := cfg.Interface(alt.Number, alt.Alternate)
				if err != nil {
					cfg.Close()
					return fmt.Errorf("failed to claim interface %d: %w", alt.Number, err)
				}
				outEndpt, err := intf.OutEndpoint(outNum)
				if err != nil {
					intf.Close()
					cfg.Close()
					return fmt.Errorf("failed to get out endpoint: %w", err)
				}
				inEndpt, err := intf.InEndpoint(inNum)
				if err != nil {
					intf.Close()
					cfg.Close()
					return fmt.Errorf("failed to get in endpoint: %w", err)
				}

				uc.cfg = cfg
				uc.intf = intf
				uc.outEndpt = outEndpt
				uc.inEndpt = inEndpt
				return nil
			}
		}
	}
	return errors.New("device has no USBTMC interface")
}

// Close releases the interface, device and libusb context
func (uc *USBTMCConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	uc.release()
	uc.isOpen = false
	uc.logger.Debug("USBTMC connection closed")
	return nil
}

func (uc *USBTMCConnection) release() {
	if uc.intf != nil {
		uc.intf.Close()
		uc.intf = nil
	}
	if uc.cfg != nil {
		uc.cfg.Close()
		uc.cfg = nil
	}
	if uc.device != nil {
		uc.device.Close()
		uc.device = nil
	}
	if uc.ctx != nil {
		uc.ctx.Close()
		uc.ctx = nil
	}
	uc.outEndpt = nil
	uc.inEndpt = nil
}

// IsOpen returns whether the connection is open
func (uc *USBTMCConnection) IsOpen() bool {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()
	return uc.isOpen && uc.outEndpt != nil && uc.inEndpt != nil
}

// Write sends data as one DEV_DEP_MSG_OUT transfer
func (uc *USBTMCConnection) Write(ctx context.Context, data []byte) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen || uc.outEndpt == nil {
		return ErrNotAlive
	}

	uc.tag = nextTag(uc.tag)
	if err := uc.bulkOut(ctx, encodeDevDepMsgOut(uc.tag, data)); err != nil {
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w after %s", ErrWriteTimeout, uc.config.Timeout)
		}
		return fmt.Errorf("failed to write to USBTMC device: %w", err)
	}
	return nil
}

// Read requests up to maxBytes and returns the reply payload
func (uc *USBTMCConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen || uc.inEndpt == nil {
		return nil, ErrNotAlive
	}
	if maxBytes <= 0 {
		maxBytes = usbtmcDefaultTransferSize
	}

	uc.tag = nextTag(uc.tag)
	tag := uc.tag
	if err := uc.bulkOut(ctx, encodeRequestDevDepMsgIn(tag, maxBytes)); err != nil {
		if errors.Is(err, ErrTimeout) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to request USBTMC reply: %w", err)
	}

	opCtx, cancel := uc.opContext(ctx)
	defer cancel()

	buffer := make([]byte, usbtmcTransferSize(maxBytes))
	n, err := uc.inEndpt.ReadContext(opCtx, buffer)
	if err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("failed to read from USBTMC device: %w", err)
	}

	payload, _, err := decodeDevDepMsgIn(tag, buffer[:n])
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (uc *USBTMCConnection) bulkOut(ctx context.Context, msg []byte) error {
	opCtx, cancel := uc.opContext(ctx)
	defer cancel()

	n, err := uc.outEndpt.WriteContext(opCtx, msg)
	if err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return ErrTimeout
		}
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(msg))
	}
	return nil
}

func (uc *USBTMCConnection) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := uc.config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Address returns the VISA resource string of the instrument
func (uc *USBTMCConnection) Address() string {
	if uc.config.Resource != "" {
		return uc.config.Resource
	}
	return VISAResource{
		Interface:    VISAInterfaceUSB,
		VendorID:     uc.config.VendorID,
		ProductID:    uc.config.ProductID,
		SerialNumber: uc.config.SerialNumber,
	}.String()
}

// GetProtocolType returns the protocol type
func (uc *USBTMCConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeUSBTMC
}

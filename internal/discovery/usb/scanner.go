// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
)

const usbtmcSubClass gousb.Class = 0x03

// Scanner finds USBTMC instruments and reports them as VISA resources
type Scanner struct {
	logger  *zap.Logger
	vendors *VendorDatabase
	config  *Config
}

// Config for USB scanner
type Config struct {
	ScanTimeout time.Duration `json:"scan_timeout"`
	EnableDebug bool          `json:"enable_debug"`
	// KnownVendorsOnly also accepts devices of known instrument vendors
	// that do not advertise a USBTMC interface.
	KnownVendorsOnly bool `json:"known_vendors_only"`
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{ScanTimeout: 10 * time.Second}
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 10 * time.Second
	}

	return &Scanner{
		logger:  logger.With(zap.String("scanner", "usb")),
		vendors: NewVendorDatabase(),
		config:  config,
	}
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

func (s *Scanner) ConnectionType() model.ConnectionType {
	return model.ConnectionTypeUSBTMC
}

// IsAvailable checks that libusb can be initialised
func (s *Scanner) IsAvailable() bool {
	ok := true
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Warn("libusb unavailable", zap.Any("reason", r))
				ok = false
			}
		}()
		ctx := gousb.NewContext()
		ctx.Close()
	}()
	return ok
}

// Scan opens every USBTMC capable device long enough to read its serial
// number
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	startTime := time.Now()

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	devices, err := usbCtx.OpenDevices(s.shouldExamineDevice)
	defer s.closeAllDevices(devices)
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if err != nil {
		s.logger.Debug("Some USB devices could not be opened", zap.Error(err))
	}

	var ports []*discovery.DiscoveredPort
	for _, device := range devices {
		if ctx.Err() != nil {
			return ports, ctx.Err()
		}
		if time.Since(startTime) > s.config.ScanTimeout {
			s.logger.Warn("USB scan timed out", zap.Int("examined", len(ports)))
			break
		}
		ports = append(ports, s.describe(device.Desc, s.getSerialNumber(device)))
	}

	s.logger.Debug("USB scan completed",
		zap.Int("devices_found", len(ports)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return ports, nil
}

// shouldExamineDevice selects devices with a USBTMC interface, or any
// device of a known instrument vendor when configured to
func (s *Scanner) shouldExamineDevice(desc *gousb.DeviceDesc) bool {
	if isUSBTMC(desc) {
		return true
	}
	return s.config.KnownVendorsOnly && s.vendors.IsInstrumentVendor(desc.Vendor)
}

// isUSBTMC reports whether any alternate setting is application class
// 0xFE with the test and measurement subclass
func isUSBTMC(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == gousb.ClassApplication && alt.SubClass == usbtmcSubClass {
					return true
				}
			}
		}
	}
	return false
}

// describe builds the VISA resource of a device
func (s *Scanner) describe(desc *gousb.DeviceDesc, serial string) *discovery.DiscoveredPort {
	resource := protocol.VISAResource{
		Interface:    protocol.VISAInterfaceUSB,
		VendorID:     uint16(desc.Vendor),
		ProductID:    uint16(desc.Product),
		SerialNumber: serial,
		Class:        "INSTR",
	}

	port := &discovery.DiscoveredPort{
		ConnectionType: model.ConnectionTypeUSBTMC,
		Address:        resource.String(),
		Description:    fmt.Sprintf("USB bus %d address %d", desc.Bus, desc.Address),
		VendorID:       fmt.Sprintf("%04X", uint16(desc.Vendor)),
		ProductID:      fmt.Sprintf("%04X", uint16(desc.Product)),
		SerialNumber:   serial,
	}

	if vendor := s.vendors.GetVendorInfo(desc.Vendor); vendor != nil {
		port.Vendor = vendor.Name
		if product := vendor.GetProductInfo(desc.Product); product != nil {
			port.Model = product.Model
			port.Description = product.Family
		}
	}
	return port
}

func (s *Scanner) getSerialNumber(device *gousb.Device) string {
	serial, err := device.SerialNumber()
	if err != nil {
		s.logger.Debug("Failed to read serial number",
			zap.String("vendor_id", device.Desc.Vendor.String()),
			zap.Error(err),
		)
		return ""
	}
	return strings.TrimSpace(serial)
}

func (s *Scanner) closeAllDevices(devices []*gousb.Device) {
	for i, device := range devices {
		if device == nil {
			continue
		}
		if err := device.Close(); err != nil {
			s.logger.Warn("Failed to close USB device", zap.Int("device_index", i), zap.Error(err))
		}
	}
}

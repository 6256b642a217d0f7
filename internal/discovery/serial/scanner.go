// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
)

// USB to serial bridge vendors commonly found in instrument cables
var bridgeVendors = map[string]string{
	"0403": "FTDI",
	"067B": "Prolific",
	"10C4": "Silicon Labs",
	"1A86": "QinHeng",
	"2341": "Arduino",
	"0557": "ATEN",
}

// Scanner lists serial ports in the order the OS reports them
type Scanner struct {
	logger *zap.Logger
	config *Config

	// listDetailed and list are replaced in tests
	listDetailed func() ([]*enumerator.PortDetails, error)
	list         func() ([]string, error)
}

// Config for serial scanner
type Config struct {
	// PortPatterns keeps only ports whose name contains one of the
	// patterns. Empty keeps every port.
	PortPatterns []string `json:"port_patterns"`
	// USBOnly drops ports that are not USB serial bridges.
	USBOnly bool `json:"usb_only"`
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}

	return &Scanner{
		logger:       logger.With(zap.String("scanner", "serial")),
		config:       config,
		listDetailed: enumerator.GetDetailedPortsList,
		list:         serial.GetPortsList,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

func (s *Scanner) ConnectionType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan enumerates serial ports. Detailed USB information is used when the
// platform provides it.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	details, err := s.listDetailed()
	if err != nil {
		s.logger.Debug("Detailed port enumeration failed, using plain list", zap.Error(err))
		names, err := s.list()
		if err != nil {
			return nil, fmt.Errorf("failed to get serial ports: %w", err)
		}
		details = make([]*enumerator.PortDetails, 0, len(names))
		for _, name := range names {
			details = append(details, &enumerator.PortDetails{Name: name})
		}
	}

	var ports []*discovery.DiscoveredPort
	for _, d := range details {
		if !s.keep(d) {
			continue
		}
		ports = append(ports, s.describe(d))
	}

	s.logger.Debug("Serial ports found", zap.Int("count", len(ports)))
	return ports, nil
}

func (s *Scanner) keep(d *enumerator.PortDetails) bool {
	if s.config.USBOnly && !d.IsUSB {
		return false
	}
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, p := range s.config.PortPatterns {
		if strings.Contains(d.Name, p) {
			return true
		}
	}
	return false
}

func (s *Scanner) describe(d *enumerator.PortDetails) *discovery.DiscoveredPort {
	port := &discovery.DiscoveredPort{
		ConnectionType: model.ConnectionTypeSerial,
		Address:        d.Name,
		Description:    "serial port",
	}
	if !d.IsUSB {
		return port
	}

	port.VendorID = strings.ToUpper(d.VID)
	port.ProductID = strings.ToUpper(d.PID)
	port.SerialNumber = d.SerialNumber
	port.Model = d.Product
	port.Vendor = bridgeVendors[port.VendorID]
	port.Description = "USB serial bridge"
	return port
}

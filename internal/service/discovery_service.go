// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/discovery"
	"instrument-service/internal/discovery/serial"
	"instrument-service/internal/discovery/tcp"
	"instrument-service/internal/discovery/usb"
	"instrument-service/internal/model"
	"instrument-service/internal/protocol"
	"instrument-service/internal/utils"
)

// DiscoveryService enumerates candidate ports. Its scanner manager is also
// the PortLister behind every instrument session.
type DiscoveryService struct {
	scannerManager *discovery.ScannerManager
	config         *config.Config
	logger         *utils.ServiceLogger
}

// NewDiscoveryService creates a discovery service with the scanners the
// configuration enables
func NewDiscoveryService(cfg *config.Config, logger *zap.Logger) *DiscoveryService {
	ds := &DiscoveryService{
		scannerManager: discovery.NewScannerManager(logger),
		config:         cfg,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}

	ds.initializeScanners()
	return ds
}

// NewDiscoveryServiceWith wraps an existing scanner manager
func NewDiscoveryServiceWith(sm *discovery.ScannerManager, cfg *config.Config, logger *zap.Logger) *DiscoveryService {
	return &DiscoveryService{
		scannerManager: sm,
		config:         cfg,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}
}

// initializeScanners registers the OS and network scanners plus one static
// scanner per connection type holding the configured instrument addresses
func (ds *DiscoveryService) initializeScanners() {
	d := ds.config.Discovery
	logger := ds.logger.Logger

	ds.scannerManager.RegisterScanner(serial.NewScanner(logger, &serial.Config{
		PortPatterns: d.SerialPatterns,
		USBOnly:      d.USBOnly,
	}))

	if d.USB {
		if usbScanner := usb.NewScanner(logger, nil); usbScanner.IsAvailable() {
			ds.scannerManager.RegisterScanner(usbScanner)
		}
	}

	if len(d.NetworkRanges) > 0 {
		ds.scannerManager.RegisterScanner(tcp.NewScanner(logger, &tcp.Config{
			NetworkRanges: d.NetworkRanges,
			CommonPorts:   d.TCPPorts,
			ConnTimeout:   d.ConnTimeout,
			ScanTimeout:   ds.config.App.ScanTimeout,
		}))
	}

	configured := map[model.ConnectionType][]string{}
	for _, inst := range ds.config.Instruments {
		connType, err := protocol.ParseConnectionType(inst.Connection)
		if err != nil || connType == model.ConnectionTypeSerial {
			continue
		}
		configured[connType] = append(configured[connType], inst.Addresses...)
	}
	for connType, addrs := range configured {
		ds.scannerManager.RegisterScanner(&discovery.StaticScanner{
			Name:      "configured-" + string(connType),
			Kind:      connType,
			Addresses: addrs,
		})
	}

	ds.logger.Info("Discovery scanners initialized",
		zap.Strings("available_scanners", ds.scannerManager.GetAvailableScanners()),
	)
}

// Lister returns the port lister sessions scan
func (ds *DiscoveryService) Lister() discovery.PortLister {
	return ds.scannerManager
}

// Scanners returns the available scanner types
func (ds *DiscoveryService) Scanners() []string {
	return ds.scannerManager.GetAvailableScanners()
}

// ScanPorts runs one scanner, or all of them for "" and "all"
func (ds *DiscoveryService) ScanPorts(ctx context.Context, scanType string) ([]*discovery.DiscoveredPort, error) {
	start := time.Now()
	if ds.config.App.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ds.config.App.ScanTimeout)
		defer cancel()
	}

	var ports []*discovery.DiscoveredPort
	var err error
	switch scanType {
	case "", "all":
		ports, err = ds.scannerManager.ScanAll(ctx)
	default:
		ports, err = ds.scannerManager.ScanByType(ctx, scanType)
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	ds.logger.Info("Port scan completed",
		zap.String("scan_type", scanType),
		zap.Int("ports_found", len(ports)),
		zap.Duration("duration", time.Since(start)),
	)
	return ports, nil
}

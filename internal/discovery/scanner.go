// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// PortScanner enumerates connectable addresses of one kind
type PortScanner interface {
	Scan(ctx context.Context) ([]*DiscoveredPort, error)
	GetScannerType() string
	ConnectionType() model.ConnectionType
	IsAvailable() bool
}

// DiscoveredPort is one candidate address, in the order the OS reported it
type DiscoveredPort struct {
	ConnectionType model.ConnectionType `json:"connection_type"`
	Address        string               `json:"address"`
	Description    string               `json:"description,omitempty"`
	Vendor         string               `json:"vendor,omitempty"`
	Model          string               `json:"model,omitempty"`
	VendorID       string               `json:"vendor_id,omitempty"`
	ProductID      string               `json:"product_id,omitempty"`
	SerialNumber   string               `json:"serial_number,omitempty"`
}

// PortLister supplies scan candidates to a Session
type PortLister interface {
	ListPorts(ctx context.Context, connType model.ConnectionType) ([]string, error)
}

// ScannerManager runs the registered scanners in registration order
type ScannerManager struct {
	mu       sync.RWMutex
	order    []string
	scanners map[string]PortScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]PortScanner),
		logger:   logger.With(zap.String("component", "scanner_manager")),
	}
}

// RegisterScanner registers a port scanner, replacing one of the same type
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	scannerType := scanner.GetScannerType()
	if _, exists := sm.scanners[scannerType]; !exists {
		sm.order = append(sm.order, scannerType)
	}
	sm.scanners[scannerType] = scanner
	sm.logger.Debug("Scanner registered", zap.String("type", scannerType))
}

func (sm *ScannerManager) registered() []PortScanner {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]PortScanner, 0, len(sm.order))
	for _, t := range sm.order {
		list = append(list, sm.scanners[t])
	}
	return list
}

// ScanAll scans with every available scanner. A failing scanner is logged
// and skipped.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*DiscoveredPort, error) {
	var all []*DiscoveredPort

	for _, scanner := range sm.registered() {
		scannerType := scanner.GetScannerType()
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		ports, err := scanner.Scan(ctx)
		if err != nil {
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		all = append(all, ports...)
		sm.logger.Debug("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("ports_found", len(ports)),
		)
	}

	return all, nil
}

// ScanByType scans with one scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*DiscoveredPort, error) {
	sm.mu.RLock()
	scanner, exists := sm.scanners[scannerType]
	sm.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}
	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	return scanner.Scan(ctx)
}

// ListPorts returns the addresses of every port of connType, without
// duplicates, in scanner then OS order
func (sm *ScannerManager) ListPorts(ctx context.Context, connType model.ConnectionType) ([]string, error) {
	var addresses []string
	seen := make(map[string]bool)

	for _, scanner := range sm.registered() {
		if scanner.ConnectionType() != connType || !scanner.IsAvailable() {
			continue
		}
		ports, err := scanner.Scan(ctx)
		if err != nil {
			sm.logger.Warn("Scanner failed", zap.String("type", scanner.GetScannerType()), zap.Error(err))
			continue
		}
		for _, p := range ports {
			if !seen[p.Address] {
				seen[p.Address] = true
				addresses = append(addresses, p.Address)
			}
		}
	}

	return addresses, nil
}

// GetAvailableScanners returns list of available scanner types
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for _, scanner := range sm.registered() {
		if scanner.IsAvailable() {
			available = append(available, scanner.GetScannerType())
		}
	}
	return available
}

// StaticScanner reports a fixed list of addresses, e.g. the UDP or TCP
// endpoints of networked instruments.
type StaticScanner struct {
	Name      string
	Kind      model.ConnectionType
	Addresses []string
}

func (s *StaticScanner) Scan(ctx context.Context) ([]*DiscoveredPort, error) {
	ports := make([]*DiscoveredPort, 0, len(s.Addresses))
	for _, addr := range s.Addresses {
		ports = append(ports, &DiscoveredPort{ConnectionType: s.Kind, Address: addr, Description: "configured"})
	}
	return ports, nil
}

func (s *StaticScanner) GetScannerType() string {
	if s.Name != "" {
		return s.Name
	}
	return "static-" + string(s.Kind)
}

func (s *StaticScanner) ConnectionType() model.ConnectionType {
	return s.Kind
}

func (s *StaticScanner) IsAvailable() bool {
	return len(s.Addresses) > 0
}

// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/discovery"
	"instrument-service/internal/model"
)

// maxHosts bounds the number of addresses expanded from one range
const maxHosts = 1024

// Scanner probes network ranges for instruments listening on raw socket
// ports
type Scanner struct {
	logger *zap.Logger
	config *Config
	dialer *net.Dialer
}

// Config for TCP scanner
type Config struct {
	ScanTimeout   time.Duration `json:"scan_timeout"`
	NetworkRanges []string      `json:"network_ranges"`
	CommonPorts   []int         `json:"common_ports"`
	ConnTimeout   time.Duration `json:"connection_timeout"`
	MaxConcurrent int           `json:"max_concurrent"`
}

// NewScanner creates a new TCP scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 30 * time.Second
	}
	if len(config.CommonPorts) == 0 {
		// SCPI raw socket and the LXI alternative
		config.CommonPorts = []int{5025, 5024}
	}
	if config.ConnTimeout <= 0 {
		config.ConnTimeout = 500 * time.Millisecond
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 32
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "tcp")),
		config: config,
		dialer: &net.Dialer{Timeout: config.ConnTimeout},
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "tcp"
}

func (s *Scanner) ConnectionType() model.ConnectionType {
	return model.ConnectionTypeTCP
}

// IsAvailable reports whether any range is configured
func (s *Scanner) IsAvailable() bool {
	return len(s.config.NetworkRanges) > 0
}

// Scan connects to every host and port of the configured ranges. Results
// keep range, host and port order.
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	targets, err := s.targets()
	if err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.config.ScanTimeout)
	defer cancel()

	open := make([]bool, len(targets))
	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i, target := range targets {
		select {
		case sem <- struct{}{}:
		case <-scanCtx.Done():
		}
		if scanCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			defer func() { <-sem }()

			conn, err := s.dialer.DialContext(scanCtx, "tcp", target)
			if err != nil {
				return
			}
			conn.Close()
			open[i] = true
		}(i, target)
	}
	wg.Wait()

	var ports []*discovery.DiscoveredPort
	for i, target := range targets {
		if open[i] {
			ports = append(ports, &discovery.DiscoveredPort{
				ConnectionType: model.ConnectionTypeTCP,
				Address:        target,
				Description:    "open socket",
			})
		}
	}

	s.logger.Debug("TCP scan completed",
		zap.Int("probed", len(targets)),
		zap.Int("devices_found", len(ports)),
	)
	return ports, nil
}

// targets expands ranges into host:port pairs. A range is a CIDR prefix or
// a single address.
func (s *Scanner) targets() ([]string, error) {
	var targets []string
	for _, r := range s.config.NetworkRanges {
		hosts, err := expandRange(r)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			for _, p := range s.config.CommonPorts {
				targets = append(targets, net.JoinHostPort(h.String(), strconv.Itoa(p)))
			}
		}
	}
	return targets, nil
}

func expandRange(r string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(r); err == nil {
		return []netip.Addr{addr}, nil
	}

	prefix, err := netip.ParsePrefix(r)
	if err != nil {
		return nil, fmt.Errorf("invalid network range %q: %w", r, err)
	}
	prefix = prefix.Masked()

	var hosts []netip.Addr
	bits := prefix.Addr().BitLen() - prefix.Bits()
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		if len(hosts) >= maxHosts {
			return nil, fmt.Errorf("network range %q exceeds %d hosts", r, maxHosts)
		}
		hosts = append(hosts, addr)
	}

	// network and broadcast addresses of IPv4 subnets larger than /31
	if prefix.Addr().Is4() && bits > 1 && len(hosts) > 2 {
		hosts = hosts[1 : len(hosts)-1]
	}
	return hosts, nil
}

// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"instrument-service/internal/model"
)

// CreateTransport creates an unopened transport for address. Addresses are
// serial device names, host:port pairs or VISA resource strings.
func CreateTransport(connectionType model.ConnectionType, address string, settings Settings, logger *zap.Logger) (Transport, error) {
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport settings: %w", err)
	}

	switch connectionType {
	case model.ConnectionTypeSerial:
		return createSerialTransport(address, settings, logger)
	case model.ConnectionTypeUDP:
		return createUDPTransport(address, settings, logger), nil
	case model.ConnectionTypeTCP:
		return createTCPTransport(address, settings, logger)
	case model.ConnectionTypeUSBTMC:
		return createUSBTMCTransport(address, settings, logger)
	default:
		return nil, fmt.Errorf("unsupported connection type: %s", connectionType)
	}
}

// createSerialTransport accepts "/dev/ttyUSB0", "COM3" or "ASRL/dev/ttyUSB0::INSTR"
func createSerialTransport(address string, settings Settings, logger *zap.Logger) (Transport, error) {
	port := address
	if strings.HasPrefix(strings.ToUpper(address), string(VISAInterfaceASRL)) {
		res, err := ParseVISAResource(address)
		if err != nil {
			return nil, err
		}
		port = res.Device
	}

	return NewSerialConnection(&SerialConfig{
		Port:     port,
		Settings: settings.Merge(DefaultSettings()),
	}, logger), nil
}

func createUDPTransport(address string, settings Settings, logger *zap.Logger) Transport {
	return NewUDPConnection(&UDPConfig{
		Address:      address,
		BufferSize:   defaultUDPBufferSize,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
	}, logger)
}

// createTCPTransport accepts "host:port" or "TCPIP0::host::port::SOCKET"
func createTCPTransport(address string, settings Settings, logger *zap.Logger) (Transport, error) {
	if strings.HasPrefix(strings.ToUpper(address), string(VISAInterfaceTCPIP)) {
		res, err := ParseVISAResource(address)
		if err != nil {
			return nil, err
		}
		address = res.SocketAddress()
	}

	return NewTCPConnection(&TCPConfig{
		Address:        address,
		KeepAlive:      true,
		ConnectTimeout: settings.ReadTimeout,
		ReadTimeout:    settings.ReadTimeout,
		WriteTimeout:   settings.WriteTimeout,
	}, logger), nil
}

// createUSBTMCTransport accepts "USB0::0x0957::0x0807::SERIAL::INSTR"
func createUSBTMCTransport(address string, settings Settings, logger *zap.Logger) (Transport, error) {
	res, err := ParseVISAResource(address)
	if err != nil {
		return nil, err
	}
	if res.Interface != VISAInterfaceUSB {
		return nil, fmt.Errorf("not a USB resource: %s", address)
	}

	return NewUSBTMCConnection(&USBTMCConfig{
		Resource:     address,
		VendorID:     res.VendorID,
		ProductID:    res.ProductID,
		SerialNumber: res.SerialNumber,
		Timeout:      settings.ReadTimeout,
	}, logger), nil
}

// ParseConnectionType maps configuration names onto connection types
func ParseConnectionType(name string) (model.ConnectionType, error) {
	switch strings.ToUpper(name) {
	case "SERIAL", "RS232", "RS422", "RS485":
		return model.ConnectionTypeSerial, nil
	case "UDP":
		return model.ConnectionTypeUDP, nil
	case "TCP", "SOCKET":
		return model.ConnectionTypeTCP, nil
	case "USBTMC", "USB", "VISA":
		return model.ConnectionTypeUSBTMC, nil
	default:
		return "", fmt.Errorf("unsupported connection type: %s", name)
	}
}

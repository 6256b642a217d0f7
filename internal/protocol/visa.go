// internal/protocol/visa.go
package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// VISAInterface is the interface family of a VISA resource string
type VISAInterface string

const (
	VISAInterfaceUSB   VISAInterface = "USB"
	VISAInterfaceTCPIP VISAInterface = "TCPIP"
	VISAInterfaceASRL  VISAInterface = "ASRL"
)

const defaultSocketPort = 5025

// VISAResource is a parsed VISA resource address such as
// "USB0::0x0957::0x0807::US12345::INSTR" or "TCPIP0::10.0.0.5::5025::SOCKET"
type VISAResource struct {
	Interface    VISAInterface
	Board        int
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Host         string
	Port         int
	Device       string
	Class        string
}

// ParseVISAResource parses the USB, TCPIP socket and ASRL resource forms
func ParseVISAResource(resource string) (VISAResource, error) {
	parts := strings.Split(strings.TrimSpace(resource), "::")
	if len(parts) < 2 {
		return VISAResource{}, fmt.Errorf("invalid VISA resource: %q", resource)
	}

	head := strings.ToUpper(parts[0])
	res := VISAResource{Class: strings.ToUpper(parts[len(parts)-1])}

	switch {
	case strings.HasPrefix(head, string(VISAInterfaceUSB)):
		if len(parts) < 4 {
			return VISAResource{}, fmt.Errorf("invalid USB resource: %q", resource)
		}
		res.Interface = VISAInterfaceUSB
		res.Board = parseBoard(head[len(VISAInterfaceUSB):])

		vid, err := parseUSBID(parts[1])
		if err != nil {
			return VISAResource{}, fmt.Errorf("invalid vendor id in %q: %w", resource, err)
		}
		pid, err := parseUSBID(parts[2])
		if err != nil {
			return VISAResource{}, fmt.Errorf("invalid product id in %q: %w", resource, err)
		}
		res.VendorID, res.ProductID = vid, pid
		if len(parts) > 4 || res.Class != "INSTR" {
			res.SerialNumber = parts[3]
		}
		return res, nil

	case strings.HasPrefix(head, string(VISAInterfaceTCPIP)):
		res.Interface = VISAInterfaceTCPIP
		res.Board = parseBoard(head[len(VISAInterfaceTCPIP):])
		res.Host = parts[1]
		res.Port = defaultSocketPort
		if res.Class == "SOCKET" {
			if len(parts) < 4 {
				return VISAResource{}, fmt.Errorf("invalid socket resource: %q", resource)
			}
			port, err := strconv.Atoi(parts[2])
			if err != nil {
				return VISAResource{}, fmt.Errorf("invalid socket port in %q: %w", resource, err)
			}
			res.Port = port
		}
		return res, nil

	case strings.HasPrefix(head, string(VISAInterfaceASRL)):
		res.Interface = VISAInterfaceASRL
		res.Device = head[len(VISAInterfaceASRL):]
		if res.Device == "" {
			return VISAResource{}, fmt.Errorf("invalid serial resource: %q", resource)
		}
		// keep the original case of device paths such as /dev/ttyUSB0
		res.Device = parts[0][len(VISAInterfaceASRL):]
		return res, nil
	}

	return VISAResource{}, fmt.Errorf("unsupported VISA interface in %q", resource)
}

// String formats the resource back into VISA notation
func (r VISAResource) String() string {
	switch r.Interface {
	case VISAInterfaceUSB:
		if r.SerialNumber == "" {
			return fmt.Sprintf("USB%d::%s::%s::INSTR", r.Board, formatUSBID(r.VendorID), formatUSBID(r.ProductID))
		}
		return fmt.Sprintf("USB%d::%s::%s::%s::INSTR", r.Board, formatUSBID(r.VendorID), formatUSBID(r.ProductID), r.SerialNumber)
	case VISAInterfaceTCPIP:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Host, r.Port)
	case VISAInterfaceASRL:
		return fmt.Sprintf("ASRL%s::INSTR", r.Device)
	default:
		return ""
	}
}

// SocketAddress returns host:port for TCPIP resources
func (r VISAResource) SocketAddress() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func parseBoard(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseUSBID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// internal/model/instrument.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionType represents how the instrument is attached
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeUDP    ConnectionType = "UDP"
	ConnectionTypeTCP    ConnectionType = "TCP"
	ConnectionTypeUSBTMC ConnectionType = "USBTMC"
)

// InstrumentStatus represents the current status of an instrument session
type InstrumentStatus string

const (
	InstrumentStatusOnline     InstrumentStatus = "ONLINE"
	InstrumentStatusOffline    InstrumentStatus = "OFFLINE"
	InstrumentStatusConnecting InstrumentStatus = "CONNECTING"
	InstrumentStatusError      InstrumentStatus = "ERROR"
)

// InstrumentType groups instruments by what they do
type InstrumentType string

const (
	InstrumentTypeChiller     InstrumentType = "CHILLER"
	InstrumentTypePump        InstrumentType = "PUMP"
	InstrumentTypeStepper     InstrumentType = "STEPPER"
	InstrumentTypeTempLogger  InstrumentType = "TEMPERATURE_LOGGER"
	InstrumentTypePowerSupply InstrumentType = "POWER_SUPPLY"
	InstrumentTypeGeneric     InstrumentType = "GENERIC"
)

// Instrument is the service-level view of one configured instrument
type Instrument struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	LongName       string           `json:"long_name"`
	Driver         string           `json:"driver"`
	InstrumentType InstrumentType   `json:"instrument_type"`
	ConnectionType ConnectionType   `json:"connection_type"`
	Address        string           `json:"address,omitempty"`
	Status         InstrumentStatus `json:"status"`
	LastSeen       *time.Time       `json:"last_seen,omitempty"`
	LastError      *string          `json:"last_error,omitempty"`
	ErrorQueue     []string         `json:"error_queue,omitempty"`
	State          interface{}      `json:"state,omitempty"`
}

// IsOnline checks if the instrument session is alive
func (i *Instrument) IsOnline() bool {
	return i.Status == InstrumentStatusOnline
}

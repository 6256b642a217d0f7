// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventInstrumentConnected    EventType = "INSTRUMENT_CONNECTED"
	EventInstrumentDisconnected EventType = "INSTRUMENT_DISCONNECTED"
	EventInstrumentFault        EventType = "INSTRUMENT_FAULT"
	EventReading                EventType = "READING"
	EventDeviceErrors           EventType = "DEVICE_ERRORS"
	EventCommand                EventType = "COMMAND"
)

// InstrumentEvent represents an event in the system
type InstrumentEvent struct {
	ID         uuid.UUID              `json:"id"`
	EventType  EventType              `json:"event_type"`
	Instrument string                 `json:"instrument"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   string                 `json:"severity"` // INFO, WARNING, ERROR
}

// NewInstrumentEvent creates an event stamped with a fresh id and time
func NewInstrumentEvent(eventType EventType, instrument, severity string, data map[string]interface{}) *InstrumentEvent {
	return &InstrumentEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		Instrument: instrument,
		Data:       data,
		Timestamp:  time.Now(),
		Severity:   severity,
	}
}

// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"instrument-service/internal/model"
)

// EventRepository defines instrument event data access operations
type EventRepository interface {
	Create(ctx context.Context, event *model.InstrumentEvent) error
	List(ctx context.Context, filter *EventFilter) ([]*model.InstrumentEvent, error)

	// Cleanup
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventFilter represents event listing filters. Results are newest first.
type EventFilter struct {
	Instrument *string          `json:"instrument,omitempty"`
	EventType  *model.EventType `json:"event_type,omitempty"`
	Since      *time.Time       `json:"since,omitempty"`
	Limit      int              `json:"limit"`
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

func (f *EventFilter) limit() int {
	switch {
	case f == nil || f.Limit <= 0:
		return defaultEventLimit
	case f.Limit > maxEventLimit:
		return maxEventLimit
	default:
		return f.Limit
	}
}

// internal/repository/memory_event_repository.go
package repository

import (
	"context"
	"sync"
	"time"

	"instrument-service/internal/model"
)

// memoryEventRepository keeps the most recent events in a bounded buffer.
// It serves when no database is configured.
type memoryEventRepository struct {
	mu       sync.RWMutex
	events   []*model.InstrumentEvent
	capacity int
}

// NewMemoryEventRepository creates an in-memory repository holding at most
// capacity events
func NewMemoryEventRepository(capacity int) EventRepository {
	if capacity <= 0 {
		capacity = maxEventLimit
	}
	return &memoryEventRepository{capacity: capacity}
}

func (r *memoryEventRepository) Create(ctx context.Context, event *model.InstrumentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if over := len(r.events) - r.capacity; over > 0 {
		r.events = append([]*model.InstrumentEvent(nil), r.events[over:]...)
	}
	return nil
}

func (r *memoryEventRepository) List(ctx context.Context, filter *EventFilter) ([]*model.InstrumentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.limit()
	events := []*model.InstrumentEvent{}
	for i := len(r.events) - 1; i >= 0 && len(events) < limit; i-- {
		e := r.events[i]
		if filter != nil {
			if filter.Instrument != nil && e.Instrument != *filter.Instrument {
				continue
			}
			if filter.EventType != nil && e.EventType != *filter.EventType {
				continue
			}
			if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
				continue
			}
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *memoryEventRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	for _, e := range r.events {
		if !e.Timestamp.Before(olderThan) {
			kept = append(kept, e)
		}
	}
	deleted := int64(len(r.events) - len(kept))
	r.events = kept
	return deleted, nil
}

// internal/service/event_bus.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/repository"
)

const (
	eventQueueSize      = 1000
	subscriberQueueSize = 100
	persistTimeout      = 2 * time.Second
)

// Subscription receives the events matching its filter. A slow subscriber
// misses events instead of blocking the bus.
type Subscription struct {
	ID         uuid.UUID
	C          <-chan *model.InstrumentEvent
	ch         chan *model.InstrumentEvent
	instrument string
	types      map[model.EventType]bool
}

func (s *Subscription) matches(e *model.InstrumentEvent) bool {
	if s.instrument != "" && s.instrument != e.Instrument {
		return false
	}
	return len(s.types) == 0 || s.types[e.EventType]
}

// EventBus manages event distribution and persistence
type EventBus struct {
	subscribers map[uuid.UUID]*Subscription
	events      chan *model.InstrumentEvent
	mutex       sync.RWMutex
	repo        repository.EventRepository
	logger      *zap.Logger
}

// NewEventBus creates a new event bus. repo may be nil.
func NewEventBus(repo repository.EventRepository, logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[uuid.UUID]*Subscription),
		events:      make(chan *model.InstrumentEvent, eventQueueSize),
		repo:        repo,
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

// Start distributes events until ctx is done
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.persist(event)
			eb.distributeEvent(event)
		}
	}
}

// Publish queues an event. A full queue drops it.
func (eb *EventBus) Publish(event *model.InstrumentEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("instrument", event.Instrument),
		)
	}
}

// Subscribe subscribes to events of one instrument, or of all instruments
// when instrument is empty. No types means every type.
func (eb *EventBus) Subscribe(instrument string, types ...model.EventType) *Subscription {
	ch := make(chan *model.InstrumentEvent, subscriberQueueSize)
	sub := &Subscription{
		ID:         uuid.New(),
		C:          ch,
		ch:         ch,
		instrument: instrument,
		types:      make(map[model.EventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	eb.mutex.Lock()
	eb.subscribers[sub.ID] = sub
	eb.mutex.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if _, ok := eb.subscribers[sub.ID]; ok {
		delete(eb.subscribers, sub.ID)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscriptions
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

func (eb *EventBus) persist(event *model.InstrumentEvent) {
	if eb.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := eb.repo.Create(ctx, event); err != nil {
		eb.logger.Warn("Failed to persist event", zap.String("id", event.ID.String()), zap.Error(err))
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event *model.InstrumentEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, sub := range eb.subscribers {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

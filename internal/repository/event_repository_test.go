package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instrument-service/internal/model"
)

func event(name string, t model.EventType, at time.Time) *model.InstrumentEvent {
	e := model.NewInstrumentEvent(t, name, "INFO", nil)
	e.Timestamp = at
	return e
}

func TestMemoryEventRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, event("chiller", model.EventInstrumentConnected, base)))
	require.NoError(t, repo.Create(ctx, event("pump", model.EventInstrumentConnected, base.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, event("chiller", model.EventReading, base.Add(2*time.Second))))

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.EventReading, all[0].EventType)

	name := "chiller"
	kind := model.EventInstrumentConnected
	filtered, err := repo.List(ctx, &EventFilter{Instrument: &name, EventType: &kind})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, base, filtered[0].Timestamp)

	since := base.Add(time.Second)
	recent, _ := repo.List(ctx, &EventFilter{Since: &since, Limit: 1})
	require.Len(t, recent, 1)
	assert.Equal(t, "chiller", recent[0].Instrument)
}

func TestMemoryEventRepository_Capacity(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository(2)
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, event("pump", model.EventReading, base.Add(time.Duration(i)*time.Second))))
	}

	all, _ := repo.List(ctx, nil)
	require.Len(t, all, 2)
	assert.Equal(t, base.Add(4*time.Second), all[0].Timestamp)
}

func TestMemoryEventRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository(0)
	base := time.Now()

	require.NoError(t, repo.Create(ctx, event("pump", model.EventReading, base.Add(-time.Hour))))
	require.NoError(t, repo.Create(ctx, event("pump", model.EventReading, base)))

	n, err := repo.DeleteOlderThan(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, _ := repo.List(ctx, nil)
	assert.Len(t, all, 1)
}

func TestEventFilter_Limit(t *testing.T) {
	var f *EventFilter
	assert.Equal(t, defaultEventLimit, f.limit())
	assert.Equal(t, maxEventLimit, (&EventFilter{Limit: 5000}).limit())
	assert.Equal(t, 7, (&EventFilter{Limit: 7}).limit())
}

// internal/repository/event_repository.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/database"
	"instrument-service/internal/model"
)

// eventRepository implements EventRepository on the instrument_events table
type eventRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *database.DB, logger *zap.Logger) EventRepository {
	return &eventRepository{
		db:     db,
		logger: logger.With(zap.String("component", "event_repository")),
	}
}

// Create stores an event
func (r *eventRepository) Create(ctx context.Context, event *model.InstrumentEvent) error {
	query := `
		INSERT INTO instrument_events (id, instrument, event_type, severity, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.Instrument, event.EventType, event.Severity, data, event.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create event", zap.Error(err))
		return fmt.Errorf("failed to create event: %w", err)
	}

	return nil
}

// List retrieves events with filtering, newest first
func (r *eventRepository) List(ctx context.Context, filter *EventFilter) ([]*model.InstrumentEvent, error) {
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter != nil && filter.Instrument != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("instrument = $%d", argIndex))
		args = append(args, *filter.Instrument)
		argIndex++
	}

	if filter != nil && filter.EventType != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("event_type = $%d", argIndex))
		args = append(args, *filter.EventType)
		argIndex++
	}

	if filter != nil && filter.Since != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, instrument, event_type, severity, data, created_at
		FROM instrument_events %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, whereClause, argIndex)
	args = append(args, filter.limit())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*model.InstrumentEvent{}
	for rows.Next() {
		event := &model.InstrumentEvent{}
		var data []byte
		err := rows.Scan(&event.ID, &event.Instrument, &event.EventType, &event.Severity, &data, &event.Timestamp)
		if err != nil {
			r.logger.Error("Failed to scan event row", zap.Error(err))
			continue
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &event.Data); err != nil {
				r.logger.Warn("Failed to decode event data", zap.String("id", event.ID.String()), zap.Error(err))
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// DeleteOlderThan removes events created before olderThan
func (r *eventRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM instrument_events WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		r.logger.Info("Old events deleted", zap.Int64("count", rowsAffected))
	}

	return rowsAffected, nil
}

package repository

import (
	"context"
	"time"
)

// EventRepository persists pipeline events for later inspection.
type EventRepository interface {
	Store(ctx context.Context, event Event) error

	// FindByBatchID returns the events of one batch, oldest first.
	FindByBatchID(ctx context.Context, batchID string) ([]Event, error)

	// FindByEventType returns the newest events of a type. limit <= 0 means all.
	FindByEventType(ctx context.Context, eventType string, limit int) ([]Event, error)

	// Recent returns the newest events across all types, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	DeleteOldEvents(ctx context.Context, beforeTime time.Time) error

	GetEventStats(ctx context.Context) (map[string]int64, error)
}

// Event is one journal entry.
type Event struct {
	ID        string      `json:"id"`
	EventType string      `json:"type"`
	BatchID   string      `json:"batch_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"imgshrink/internal/domain/eventbus/repository"
	"imgshrink/internal/platform/errors"
	"imgshrink/internal/platform/storage"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a gorm-backed journal on the batch_events table.
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{
		db: db,
	}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	dataBytes, err := sonic.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.marshal", "failed to marshal event data", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	record := &storage.BatchEvent{
		EventType: event.EventType,
		BatchID:   event.BatchID,
		Data:      dataBytes,
		CreatedAt: event.CreatedAt,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.create", "failed to store event", err)
	}
	return nil
}

func (r *eventRepository) FindByBatchID(ctx context.Context, batchID string) ([]repository.Event, error) {
	var records []storage.BatchEvent
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.batch", "failed to find events by batch ID", err)
	}
	return convertEvents(records)
}

func (r *eventRepository) FindByEventType(ctx context.Context, eventType string, limit int) ([]repository.Event, error) {
	var records []storage.BatchEvent
	query := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.type", "failed to find events by type", err)
	}
	return convertEvents(records)
}

func (r *eventRepository) Recent(ctx context.Context, limit int) ([]repository.Event, error) {
	var records []storage.BatchEvent
	query := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.recent", "failed to list recent events", err)
	}
	return convertEvents(records)
}

func (r *eventRepository) DeleteOldEvents(ctx context.Context, beforeTime time.Time) error {
	if err := r.db.WithContext(ctx).
		Where("created_at < ?", beforeTime).
		Delete(&storage.BatchEvent{}).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.delete.old", "failed to delete old events", err)
	}
	return nil
}

func (r *eventRepository) GetEventStats(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		EventType string
		Count     int64
	}

	if err := r.db.WithContext(ctx).
		Model(&storage.BatchEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&stats).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.stats", "failed to get event stats", err)
	}

	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.EventType] = stat.Count
	}
	return result, nil
}

func convertEvents(records []storage.BatchEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(records))
	for i, rec := range records {
		var data interface{}
		if len(rec.Data) > 0 {
			if err := sonic.Unmarshal(rec.Data, &data); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.convert.unmarshal", "failed to unmarshal event data", err)
			}
		}
		events[i] = repository.Event{
			ID:        strconv.FormatUint(uint64(rec.ID), 10),
			EventType: rec.EventType,
			BatchID:   rec.BatchID,
			Data:      data,
			CreatedAt: rec.CreatedAt,
		}
	}
	return events, nil
}

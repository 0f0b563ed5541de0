package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imgshrink/internal/domain/image"
	"imgshrink/internal/platform/storage"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a store on the shared gorm handle. The images table is
// created by storage.Migrate.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:  db,
		ttl: cfg.TTL,
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("image id required")
	}
	stamp(&item)
	record, err := toRecord(item)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing storage.ImageRecord
		err := tx.Where("image_id = ?", item.ID).First(&existing).Error
		switch {
		case errorsIsNotFound(err):
			return tx.Create(&record).Error
		case err != nil:
			return err
		}
		// Keep the row id so List order reflects first insertion.
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		return tx.Save(&record).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Item, error) {
	var record storage.ImageRecord
	err := s.scope(ctx).Where("image_id = ?", id).First(&record).Error
	if errorsIsNotFound(err) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Item{}, err
	}
	return fromRecord(record), nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Item, error) {
	var records []storage.ImageRecord
	if err := s.scope(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, fromRecord(r))
	}
	return items, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("image_id = ?", id).Delete(&storage.ImageRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&storage.ImageRecord{}).Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.scope(ctx).Model(&storage.ImageRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        DriverSQLite,
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}

func (s *sqliteStore) scope(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx)
	if s.ttl > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-s.ttl))
	}
	return q
}

func toRecord(item Item) (storage.ImageRecord, error) {
	warnings, err := sonic.Marshal(item.Warnings)
	if err != nil {
		return storage.ImageRecord{}, err
	}
	return storage.ImageRecord{
		ImageID:           item.ID,
		Name:              item.Name,
		MIMEType:          item.MIMEType,
		Status:            string(item.Status),
		OriginalSize:      item.OriginalSize,
		CompressedSize:    item.CompressedSize,
		OriginalWidth:     item.OriginalDimensions.Width,
		OriginalHeight:    item.OriginalDimensions.Height,
		CompressedWidth:   item.CompressedDimensions.Width,
		CompressedHeight:  item.CompressedDimensions.Height,
		CompressionRatio:  item.CompressionRatio,
		OutputFormat:      item.OutputFormat,
		Error:             item.Error,
		ErrorCode:         item.ErrorCode,
		Warnings:          warnings,
		Payload:           item.Payload,
		OriginalPreview:   item.OriginalPreview,
		CompressedPreview: item.CompressedPreview,
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}, nil
}

func fromRecord(r storage.ImageRecord) Item {
	item := Item{
		ID:                   r.ImageID,
		Name:                 r.Name,
		MIMEType:             r.MIMEType,
		Status:               Status(r.Status),
		OriginalSize:         r.OriginalSize,
		CompressedSize:       r.CompressedSize,
		OriginalDimensions:   image.Dimensions{Width: r.OriginalWidth, Height: r.OriginalHeight},
		CompressedDimensions: image.Dimensions{Width: r.CompressedWidth, Height: r.CompressedHeight},
		CompressionRatio:     r.CompressionRatio,
		OutputFormat:         r.OutputFormat,
		Error:                r.Error,
		ErrorCode:            r.ErrorCode,
		Payload:              r.Payload,
		OriginalPreview:      r.OriginalPreview,
		CompressedPreview:    r.CompressedPreview,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if len(r.Warnings) > 0 {
		var warnings []string
		if err := sonic.Unmarshal(r.Warnings, &warnings); err == nil {
			item.Warnings = warnings
		}
	}
	return item
}

func errorsIsNotFound(err error) bool {
	return err != nil && errors.Is(err, gorm.ErrRecordNotFound)
}

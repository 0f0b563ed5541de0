package storage

import (
	"time"

	"gorm.io/datatypes"
)

// ImageRecord persists one result store entry.
type ImageRecord struct {
	ID                uint   `gorm:"primaryKey"`
	ImageID           string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Name              string `gorm:"type:varchar(255)"`
	MIMEType          string `gorm:"type:varchar(64)"`
	Status            string `gorm:"type:varchar(16);index;not null"`
	OriginalSize      int64
	CompressedSize    int64
	OriginalWidth     int
	OriginalHeight    int
	CompressedWidth   int
	CompressedHeight  int
	CompressionRatio  int
	OutputFormat      string `gorm:"type:varchar(64)"`
	Error             string `gorm:"type:text"`
	ErrorCode         string `gorm:"type:varchar(32)"`
	Warnings          datatypes.JSON
	Payload           []byte
	OriginalPreview   string    `gorm:"type:text"`
	CompressedPreview string    `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

func (ImageRecord) TableName() string {
	return "images"
}

// BatchEvent is a journal entry for a pipeline event.
type BatchEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"index;not null"`
	BatchID   string         `gorm:"index"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"index"`
}

func (BatchEvent) TableName() string {
	return "batch_events"
}

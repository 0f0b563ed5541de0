package store

import (
	"context"
	"errors"
	"time"

	"imgshrink/internal/domain/image"
)

// ErrNotFound is returned for ids the store does not hold.
var ErrNotFound = errors.New("image not found")

// Status tracks an item through the pipeline.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Item is the shell's record for one submitted file, keyed by task id.
type Item struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	MIMEType             string           `json:"mimeType"`
	Status               Status           `json:"status"`
	OriginalSize         int64            `json:"originalSize"`
	CompressedSize       int64            `json:"compressedSize"`
	OriginalDimensions   image.Dimensions `json:"originalDimensions"`
	CompressedDimensions image.Dimensions `json:"compressedDimensions"`
	CompressionRatio     int              `json:"compressionRatio"`
	OutputFormat         string           `json:"outputFormat,omitempty"`
	Error                string           `json:"error,omitempty"`
	ErrorCode            string           `json:"errorCode,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
	Payload              []byte           `json:"payload,omitempty"`
	OriginalPreview      string           `json:"originalDataUrl,omitempty"`
	CompressedPreview    string           `json:"compressedDataUrl,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// ApplyResult folds a processing result into the item.
func (it *Item) ApplyResult(r image.ProcessingResult) {
	it.OriginalSize = r.OriginalSize
	it.CompressedSize = r.CompressedSize
	it.OriginalDimensions = r.OriginalDimensions
	it.CompressedDimensions = r.CompressedDimensions
	it.CompressionRatio = r.CompressionRatio
	it.OutputFormat = r.OutputFormat
	it.Payload = r.CompressedPayload
	it.OriginalPreview = r.OriginalPreview
	it.CompressedPreview = r.CompressedPreview
	it.Warnings = r.Warnings
	it.Error = r.Error
	it.ErrorCode = string(r.ErrorCode)
	if r.Success {
		it.Status = StatusCompleted
	} else {
		it.Status = StatusError
	}
}

// Store owns the id-keyed collection of items.
type Store interface {
	// Put inserts or replaces an item. New ids keep insertion order.
	Put(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	// List returns items in insertion order.
	List(ctx context.Context) ([]Item, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config selects and tunes a driver.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	SQLite *SQLiteConfig
}

// SQLiteConfig names the database file used when no handle is injected.
type SQLiteConfig struct {
	Path string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

func stamp(item *Item) {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
}

package migrations

import (
	"gorm.io/gorm"
)

// Migration001Images creates the result store table.
type Migration001Images struct{}

func (m *Migration001Images) Version() string {
	return "001_images"
}

func (m *Migration001Images) Description() string {
	return "Create images table for compression results"
}

func (m *Migration001Images) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_id VARCHAR(64) NOT NULL UNIQUE,
			name VARCHAR(255),
			mime_type VARCHAR(64),
			status VARCHAR(16) NOT NULL,
			original_size INTEGER,
			compressed_size INTEGER,
			original_width INTEGER,
			original_height INTEGER,
			compressed_width INTEGER,
			compressed_height INTEGER,
			compression_ratio INTEGER,
			output_format VARCHAR(64),
			error TEXT,
			error_code VARCHAR(32),
			warnings JSON,
			payload BLOB,
			original_preview TEXT,
			compressed_preview TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_images_status ON images(status)`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at)`).Error
}

func (m *Migration001Images) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS images`).Error
}

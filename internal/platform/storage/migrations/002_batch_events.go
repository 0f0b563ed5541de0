package migrations

import (
	"gorm.io/gorm"
)

// Migration002BatchEvents creates the pipeline event journal.
type Migration002BatchEvents struct{}

func (m *Migration002BatchEvents) Version() string {
	return "002_batch_events"
}

func (m *Migration002BatchEvents) Description() string {
	return "Create batch_events journal table"
}

func (m *Migration002BatchEvents) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(255) NOT NULL,
			batch_id VARCHAR(64),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_events_event_type ON batch_events(event_type)`).Error; err != nil {
		return err
	}
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_events_batch_id ON batch_events(batch_id)`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_events_created_at ON batch_events(created_at)`).Error
}

func (m *Migration002BatchEvents) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS batch_events`).Error
}

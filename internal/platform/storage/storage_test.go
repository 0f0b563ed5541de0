package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenInMemoryAppliesMigrations(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable("images"))
	assert.True(t, db.Migrator().HasTable("batch_events"))

	history, err := NewMigrationManager(db).GetMigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Re-running is a no-op.
	require.NoError(t, Migrate(db))
	history, err = NewMigrationManager(db).GetMigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "imgshrink.db")
	db, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, Close(db))
	assert.FileExists(t, path)
}

func TestRollbackMigration(t *testing.T) {
	db, err := Open(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	manager := NewMigrationManager(db)
	require.NoError(t, Migrate(db))
	manager.AddMigration(&fakeMigration{})
	require.NoError(t, manager.RunMigrations())

	require.NoError(t, manager.RollbackMigration("999_fake"))
	assert.Error(t, manager.RollbackMigration("999_fake"))
	assert.Error(t, manager.RollbackMigration("001_images"), "not registered on this manager")
}

type fakeMigration struct{}

func (fakeMigration) Version() string     { return "999_fake" }
func (fakeMigration) Description() string { return "fake" }

func (fakeMigration) Up(db *gorm.DB) error {
	return db.Exec(`CREATE TABLE fake (id INTEGER)`).Error
}

func (fakeMigration) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE fake`).Error
}

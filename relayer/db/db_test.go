package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultbridge/relay-node/relayer/store"
)

func TestOpenInMemoryDB(t *testing.T) {
	t.Run("opens and migrates schema", func(t *testing.T) {
		database, err := OpenInMemoryDB(true)
		require.NoError(t, err)
		defer database.Close()

		for _, model := range []any{
			&store.Transaction{},
			&store.EventCursor{},
			&store.VaultControllerTransaction{},
			&store.QuarantinedFinalization{},
		} {
			assert.True(t, database.Client().Migrator().HasTable(model))
		}
	})

	t.Run("opens without migration", func(t *testing.T) {
		database, err := OpenInMemoryDB(false)
		require.NoError(t, err)
		defer database.Close()

		assert.False(t, database.Client().Migrator().HasTable(&store.Transaction{}))
	})
}

func TestOpenFileDB(t *testing.T) {
	t.Run("creates directory and database file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")

		database, err := OpenFileDB(dir, "relay_data.db", true)
		require.NoError(t, err)
		defer database.Close()

		assert.FileExists(t, filepath.Join(dir, "relay_data.db"))
	})

	t.Run("reopens existing database", func(t *testing.T) {
		dir := t.TempDir()

		database, err := OpenFileDB(dir, "relay_data.db", true)
		require.NoError(t, err)

		cur := store.EventCursor{EventName: "BridgeInitiatedOriginA", LastProcessedVid: 7}
		require.NoError(t, database.Client().Create(&cur).Error)
		require.NoError(t, database.Close())

		database, err = OpenFileDB(dir, "relay_data.db", true)
		require.NoError(t, err)
		defer database.Close()

		var loaded store.EventCursor
		require.NoError(t, database.Client().Where("event_name = ?", "BridgeInitiatedOriginA").First(&loaded).Error)
		assert.Equal(t, uint64(7), loaded.LastProcessedVid)
	})
}

func TestClose(t *testing.T) {
	database, err := OpenInMemoryDB(true)
	require.NoError(t, err)

	require.NoError(t, database.Close())
}

package adapter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guchang/superinbox-sub005/db"
)

func TestLoadMerged(t *testing.T) {
	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer database.Close()

	store := NewConfigStore(database)
	file := map[string]*Config{
		"webhook": {
			UserID:      "usr_1",
			AdapterType: "webhook",
			Enabled:     true,
			BaseURL:     "https://hooks.example.com/capture",
		},
	}

	t.Run("file declarations seed the table", func(t *testing.T) {
		merged, err := store.LoadMerged("usr_1", file)
		require.NoError(t, err)
		require.Contains(t, merged, "webhook")

		seeded, err := store.Get("usr_1", "webhook")
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.example.com/capture", seeded.BaseURL)
		assert.True(t, seeded.Enabled)
	})

	t.Run("stored row wins over the file", func(t *testing.T) {
		edited := *file["webhook"]
		edited.BaseURL = "https://hooks.example.com/v2"
		edited.Enabled = false
		require.NoError(t, store.Save(&edited))

		merged, err := store.LoadMerged("usr_1", file)
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.example.com/v2", merged["webhook"].BaseURL)
		assert.False(t, merged["webhook"].Enabled, "database edit survives an unchanged config file")
	})

	t.Run("table-only destination is included", func(t *testing.T) {
		require.NoError(t, store.Save(&Config{
			UserID:      "usr_1",
			AdapterType: "notion",
			Enabled:     true,
			Command:     "npx -y @notionhq/notion-mcp-server",
			Kind:        "notion",
		}))

		merged, err := store.LoadMerged("usr_1", file)
		require.NoError(t, err)
		require.Contains(t, merged, "notion")
		assert.True(t, merged["notion"].IsProtocol())
	})

	t.Run("other users see nothing", func(t *testing.T) {
		merged, err := store.LoadMerged("usr_2", nil)
		require.NoError(t, err)
		assert.Empty(t, merged)
	})
}

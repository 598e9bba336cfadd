package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrationsOrdersUpFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":       {Data: []byte("docs")},
	}

	names, err := ListMigrations(fsys, ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)
}

func TestBundledMigrations(t *testing.T) {
	names, err := ListMigrations(Migrations(), ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_notification_settings.up.sql", "0002_habits.up.sql"}, names)
}

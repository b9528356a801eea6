package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	up, err := fs.Glob(FS, "*.up.sql")
	require.NoError(t, err)
	down, err := fs.Glob(FS, "*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, up)
	assert.Len(t, down, len(up))
}

func TestInitMigrationDefinesSlotFunction(t *testing.T) {
	raw, err := fs.ReadFile(FS, "000001_init.up.sql")
	require.NoError(t, err)

	sql := string(raw)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS appointments")
	assert.Contains(t, sql, "clinic_time_slots")
	assert.Contains(t, sql, "get_available_slots(check_date DATE)")
}

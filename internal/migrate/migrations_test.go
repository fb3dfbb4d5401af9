package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskroom/internal/db"
)

func TestStatementsSkipsComments(t *testing.T) {
	got := statements("-- header\nCREATE TABLE a (id TEXT);\n\n-- next\nCREATE INDEX i ON a(id);\n")
	require.Equal(t, []string{"CREATE TABLE a (id TEXT)", "CREATE INDEX i ON a(id)"}, got)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))
	v, err := Version(conn)
	require.NoError(t, err)
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.Equal(t, migrations[len(migrations)-1].Version, v)

	var n int
	require.NoError(t, conn.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('tasks','chat_rooms','mentions','read_cursors')`))
	require.Equal(t, 4, n)
}

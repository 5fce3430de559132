package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestParseMigrations_OrdersByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0010_items.up.sql":   migrationFile("CREATE TABLE items (id INT);"),
		"sql/migrations/0010_items.down.sql": migrationFile("DROP TABLE items;"),
		"sql/migrations/0002_init.up.sql":    migrationFile("CREATE TABLE orders (id INT);"),
		"sql/migrations/0002_init.down.sql":  migrationFile("DROP TABLE orders;"),
	}

	set, err := parseMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, int64(2), set[0].Version)
	assert.Equal(t, "init", set[0].Name)
	assert.Equal(t, "CREATE TABLE orders (id INT);", set[0].Up)
	assert.Equal(t, int64(10), set[1].Version)
	assert.Equal(t, "0010_items", set[1].label())
}

func TestParseMigrations_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys fstest.MapFS
		want string
	}{
		"missing down": {
			fsys: fstest.MapFS{"sql/migrations/0001_init.up.sql": migrationFile("SELECT 1;")},
			want: "both up and down",
		},
		"invalid file name": {
			fsys: fstest.MapFS{"sql/migrations/not_a_migration.sql": migrationFile("SELECT 1;")},
			want: "invalid migration file name",
		},
		"empty body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   migrationFile("   \n"),
				"sql/migrations/0001_init.down.sql": migrationFile("DROP TABLE orders;"),
			},
			want: "empty",
		},
		"name mismatch": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    migrationFile("SELECT 1;"),
				"sql/migrations/0001_other.down.sql": migrationFile("SELECT 1;"),
			},
			want: "name mismatch",
		},
		"no directory": {
			fsys: fstest.MapFS{},
			want: "list migrations",
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := parseMigrations(tc.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	set, err := parseMigrations(migrationsFS)
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Contains(t, set[0].Up, "CREATE TABLE IF NOT EXISTS orders")
	assert.Contains(t, set[0].Up, "order_items")
	assert.Contains(t, set[1].Up, "outbox_messages")

	assert.Equal(t, []string{"0002_outbox"}, pendingMigrations(set, map[int64]bool{1: true}))
	assert.Empty(t, pendingMigrations(set, map[int64]bool{1: true, 2: true}))
}

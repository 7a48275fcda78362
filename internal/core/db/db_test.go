package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB opens a migrated SQLite database in a temp dir.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "bidkeeper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = MigrateUp(ctx, db)
	require.NoError(t, err)
	return db
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite://data/bk.db", DriverSQLite, "file:data/bk.db?" + sqliteParams, false},
		{"sqlite:///var/lib/bk.db", DriverSQLite, "file:/var/lib/bk.db?" + sqliteParams, false},
		{"sqlite:///tmp/bk.db?mode=ro", DriverSQLite, "file:/tmp/bk.db?mode=ro", false},
		{"postgres://u:p@localhost:5432/bk?sslmode=disable", DriverPostgres, "postgres://u:p@localhost:5432/bk?sslmode=disable", false},
		{"postgresql://localhost/bk", DriverPostgres, "postgresql://localhost/bk", false},
		{"mysql://localhost/bk", "", "", true},
		{"sqlite://", "", "", true},
		{"::not a url", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := ParseURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ran, err := MigrateUp(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, ran, "second run must apply nothing")

	statuses, err := MigrateStatus(ctx, db)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %s not applied", s.ID)
		require.NotNil(t, s.AppliedAt)
		assert.Len(t, s.Checksum, 64)
	}

	assert.NoError(t, RequireMigrated(ctx, db))
}

func TestMigrateStatus_Pending(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	statuses, err := MigrateStatus(ctx, db)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "001_initial_schema.sql", statuses[0].ID)
	assert.False(t, statuses[0].Applied)

	err = RequireMigrated(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate up")
}

func TestMigrateUp_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, "UPDATE migrations SET checksum = 'tampered' WHERE migration_id = '001_initial_schema.sql'")
	require.NoError(t, err)

	_, err = MigrateUp(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestMigrateUp_UnknownAppliedMigration(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ExecContext(ctx, "INSERT INTO migrations (migration_id, checksum, applied_at_ms, execution_ms) VALUES ('999_future.sql', 'x', 0, 0)")
	require.NoError(t, err)

	_, err = MigrateUp(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in embedded files")
}

func TestSplitStatements(t *testing.T) {
	sqlText := `-- header comment
CREATE TABLE a (id INTEGER);

-- leading comment on the next statement
CREATE INDEX idx_a ON a (id);
`
	got := splitStatements(sqlText)
	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0], "CREATE TABLE a"))
	assert.True(t, strings.HasPrefix(got[1], "CREATE INDEX idx_a"))
}

func TestLoadQueries(t *testing.T) {
	db := openTestDB(t)
	q, err := LoadQueries(db)
	require.NoError(t, err)

	for _, name := range []string{"insert-match", "list-matches", "list-matches-by-rule", "count-matches",
		"get-api-key-by-hash", "update-last-used", "insert-api-key", "revoke-api-key"} {
		_, err := q.lookup(name)
		assert.NoError(t, err, "query %s", name)
	}

	_, err = q.Exec(context.Background(), "no-such-query")
	assert.Error(t, err)
}

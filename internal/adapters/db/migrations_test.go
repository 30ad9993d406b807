package db

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammerola/stockledger/migrations"
)

func migrationFS() fstest.MapFS {
	return fstest.MapFS{
		"000001_init_ledger.up.sql":    {Data: []byte("CREATE TABLE a (id INT);")},
		"000001_init_ledger.down.sql":  {Data: []byte("DROP TABLE a;")},
		"000002_add_returns.up.sql":    {Data: []byte("ALTER TABLE a ADD b INT;")},
		"000002_add_returns.down.sql":  {Data: []byte("ALTER TABLE a DROP b;")},
		"000003_demand_index.up.sql":   {Data: []byte("CREATE INDEX ON a (b);")},
		"000003_demand_index.down.sql": {Data: []byte("SELECT 1;")},
		"README.md":                    {Data: []byte("notes")},
	}
}

func TestListMigrations(t *testing.T) {
	files, err := ListMigrations(migrationFS())
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, uint(1), files[0].Version)
	assert.Equal(t, "init_ledger", files[0].Description)
	assert.True(t, files[0].HasUp)
	assert.True(t, files[0].HasDown)
	assert.Equal(t, uint(3), files[2].Version)
}

func TestValidateMigrations(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name: "complete_pairs",
			fsys: migrationFS(),
		},
		{
			name: "missing_down",
			fsys: fstest.MapFS{
				"000001_init.up.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "needs both up and down",
		},
		{
			name:    "empty_directory",
			fsys:    fstest.MapFS{},
			wantErr: "no migrations found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMigrations(tt.fsys)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateMigrations_Embedded(t *testing.T) {
	require.NoError(t, ValidateMigrations(migrations.FS))
}

func TestMigrator_Status(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	m := &Migrator{
		db: sqlDB,
		config: &MigrationConfig{
			Source:     migrationFS(),
			TableName:  "schema_migrations",
			SchemaName: "public",
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version, dirty FROM public.schema_migrations ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "dirty"}).AddRow(1, false))

	status, err := m.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint(1), status.CurrentVersion)
	assert.False(t, status.IsDirty)
	require.Len(t, status.Applied, 1)
	require.Len(t, status.Pending, 2)
	assert.Equal(t, uint(2), status.Pending[0].Version)
	assert.Equal(t, "add_returns", status.Pending[0].Description)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Status_QueryFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	m := &Migrator{
		db:     sqlDB,
		config: &MigrationConfig{Source: migrationFS(), TableName: "schema_migrations", SchemaName: "public"},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	mock.ExpectQuery("SELECT version, dirty").WillReturnError(assert.AnError)

	_, err = m.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

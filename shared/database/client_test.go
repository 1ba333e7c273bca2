package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		want      string
		errString string
	}{
		{
			name: "postgres",
			config: Config{
				Driver:   DriverPostgres,
				Host:     "db",
				Port:     5432,
				User:     "tracker",
				Password: "secret",
				Database: "tracking_db",
				SSLMode:  "disable",
			},
			want: "host=db port=5432 user=tracker password=secret dbname=tracking_db sslmode=disable",
		},
		{
			name:   "empty driver defaults to postgres",
			config: Config{Host: "db", Port: 5432, Database: "x", SSLMode: "require"},
			want:   "host=db port=5432 user= password= dbname=x sslmode=require",
		},
		{
			name:   "sqlite file",
			config: Config{Driver: DriverSQLite, Path: "/tmp/history.db"},
			want:   "file:/tmp/history.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL",
		},
		{
			name:   "sqlite in memory skips WAL",
			config: Config{Driver: DriverSQLite, Path: ":memory:"},
			want:   "file::memory:?_busy_timeout=5000&_foreign_keys=on",
		},
		{
			name:      "sqlite without path",
			config:    Config{Driver: DriverSQLite},
			errString: "sqlite3 path is required",
		},
		{
			name:      "unsupported driver",
			config:    Config{Driver: "mysql"},
			errString: "unsupported database driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := tt.config.DSN()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestNewClient_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	client, err := NewClient(&Config{Driver: DriverSQLite, Path: path}, testLogger())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DriverSQLite, client.Driver())
	assert.FileExists(t, path)
	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, 1, client.MaxOpenConns())
}

func TestNewClient_SQLiteInMemoryKeepsState(t *testing.T) {
	client, err := NewClient(&Config{Driver: DriverSQLite, Path: ":memory:"}, testLogger())
	require.NoError(t, err)
	defer client.Close()

	db := client.GetDB()
	_, err = db.Exec(`CREATE TABLE ping_check (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO ping_check (id) VALUES (1)`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM ping_check`))
	assert.Equal(t, 1, count)
}

func TestNewClient_RejectsBadConfig(t *testing.T) {
	client, err := NewClient(&Config{Driver: "mysql"}, testLogger())
	require.Error(t, err)
	assert.Nil(t, client)
}

package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`CREATE TABLE telemetry (ts TEXT, State_Of_Charge REAL, speed_kmh INTEGER, remaining_range_km REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO telemetry VALUES
        ('2024-01-01T00:00:00Z', 80.5, 50, 320),
        ('2024-01-01T00:01:00Z', 80.0, 52, NULL)`)
	require.NoError(t, err)
	return path
}

func TestQueryFrame(t *testing.T) {
	db, err := sql.Open("sqlite", seedDB(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	f, err := QueryFrame(context.Background(), db, `SELECT * FROM telemetry ORDER BY ts`)
	require.NoError(t, err)
	assert.Equal(t, []string{"ts", "state_of_charge", "speed_kmh", "remaining_range_km"}, f.Columns)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"2024-01-01T00:00:00Z", "80.5", "50", "320"}, f.Rows[0])
	assert.Equal(t, "", f.Rows[1][3])
}

func TestLoadSources(t *testing.T) {
	ctx := context.Background()
	f, err := Load(ctx, SourceConfig{Kind: KindSQLite, Path: seedDB(t), Query: "SELECT * FROM telemetry"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	csvPath := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("timestamp,a\n2024-01-01T00:00:00Z,1\n"), 0o644))
	f, err = Load(ctx, SourceConfig{Kind: KindCSV}, csvPath)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())

	_, err = Load(ctx, SourceConfig{Kind: "parquet"}, "")
	assert.Error(t, err)
}

func TestSourceConfigValidate(t *testing.T) {
	cases := []struct {
		cfg SourceConfig
		ok  bool
	}{
		{SourceConfig{Kind: KindCSV, Path: "x.csv"}, true},
		{SourceConfig{Kind: KindCSV}, false},
		{SourceConfig{Kind: KindClickHouse, Addr: "localhost:9000", Query: "SELECT 1"}, true},
		{SourceConfig{Kind: KindClickHouse, Addr: "localhost:9000"}, false},
		{SourceConfig{Kind: KindSQLite, Path: "x.db"}, false},
		{SourceConfig{Kind: "kafka"}, false},
	}
	for i, c := range cases {
		err := c.cfg.Validate()
		if c.ok {
			assert.NoError(t, err, "case %d", i)
		} else {
			assert.Error(t, err, "case %d", i)
		}
	}
	d := SourceConfig{Kind: KindClickHouse}
	d.SetDefaults()
	assert.Equal(t, "default", d.Database)
}

// Package telemetry loads training telemetry from CSV files or SQL
// warehouses into dataset frames.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/evrange/core/dataset"
)

// Source kinds accepted by SourceConfig.
const (
	KindCSV        = "csv"
	KindClickHouse = "clickhouse"
	KindSQLite     = "sqlite"
)

// SourceConfig selects where training telemetry comes from.
type SourceConfig struct {
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	Query    string `json:"query"`
}

// SetDefaults fills unset fields.
func (c *SourceConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = KindCSV
	}
	if c.Database == "" && c.Kind == KindClickHouse {
		c.Database = "default"
	}
}

// Validate checks the fields required by the selected kind.
func (c SourceConfig) Validate() error {
	switch c.Kind {
	case KindCSV:
		if c.Path == "" {
			return fmt.Errorf("data.source.path is required for csv")
		}
	case KindSQLite:
		if c.Path == "" || c.Query == "" {
			return fmt.Errorf("data.source.path and query are required for sqlite")
		}
	case KindClickHouse:
		if c.Addr == "" || c.Query == "" {
			return fmt.Errorf("data.source.addr and query are required for clickhouse")
		}
	default:
		return fmt.Errorf("unknown data source kind %q", c.Kind)
	}
	return nil
}

// Load reads the configured source. path overrides cfg.Path when set.
func Load(ctx context.Context, cfg SourceConfig, path string) (*dataset.Frame, error) {
	if path != "" {
		cfg.Path = path
	}
	switch cfg.Kind {
	case KindCSV, "":
		return dataset.ReadCSVFile(cfg.Path)
	case KindSQLite:
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()
		return QueryFrame(ctx, db, cfg.Query)
	case KindClickHouse:
		db := OpenClickHouse(cfg)
		defer func() { _ = db.Close() }()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
		}
		return QueryFrame(ctx, db, cfg.Query)
	}
	return nil, fmt.Errorf("unknown data source kind %q", cfg.Kind)
}

// OpenClickHouse returns a database/sql handle backed by clickhouse-go.
func OpenClickHouse(cfg SourceConfig) *sql.DB {
	return clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
}

// QueryFrame runs query and converts the result set to a frame. NULL cells
// become empty strings so the processor drops those rows.
func QueryFrame(ctx context.Context, db *sql.DB, query string) (*dataset.Frame, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]string
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make([]string, len(cols))
		for i, v := range vals {
			rec[i] = cell(v)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dataset.NewFrame(cols, out)
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

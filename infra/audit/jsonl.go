// Package audit keeps a rotating JSONL log of served predictions.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
)

// Config defines the audit log location and rotation.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "logs/predictions.jsonl"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
}

// Record is one line of the audit log.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	RangeKm   float64   `json:"predicted_remaining_range_km"`
	LatencyMS float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// Query filters records. Zero fields match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	VehicleID string
}

// Log appends prediction records to a lumberjack-rotated file.
type Log struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
	path   string
}

// NewLog creates the log, making the parent directory if needed.
func NewLog(cfg Config) (*Log, error) {
	cfg.SetDefaults()
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return &Log{logger: lj, path: cfg.Path}, nil
}

// RecordPrediction implements metrics.PredictionRecorder.
func (l *Log) RecordPrediction(ev coremetrics.PredictionEvent) error {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		Timestamp: ts.UTC(),
		Source:    ev.Source,
		VehicleID: ev.VehicleID,
		RangeKm:   ev.RangeKm,
		LatencyMS: float64(ev.Latency) / float64(time.Millisecond),
		Error:     ev.Error,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.logger).Encode(rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// RecordEpoch lets the log sit in a metrics.MultiSink. Training epochs are
// not audited.
func (l *Log) RecordEpoch(coremetrics.EpochEvent) error { return nil }

// Query reads the current file and its rotated backups, oldest first.
func (l *Log) Query(q Query) ([]Record, error) {
	files, err := filepath.Glob(l.path + "*")
	if err != nil {
		return nil, err
	}
	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(l.path), backupPattern(l.path)))
	files = append(files, backups...)
	var res []Record
	seen := map[string]bool{}
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		file, err := os.Open(f)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(file)
		for sc.Scan() {
			var r Record
			if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
				continue
			}
			if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
				continue
			}
			if !q.End.IsZero() && r.Timestamp.After(q.End) {
				continue
			}
			if q.VehicleID != "" && r.VehicleID != q.VehicleID {
				continue
			}
			res = append(res, r)
		}
		_ = file.Close()
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

// backupPattern matches lumberjack's "<name>-<time><ext>" backup names.
func backupPattern(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + "-*" + ext
}

// Close closes the underlying writer.
func (l *Log) Close() error {
	return l.logger.Close()
}

package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/evrange/core/logger"
)

// ProcessorConfig fixes how telemetry is cleaned and windowed.
type ProcessorConfig struct {
	SequenceLength int      `json:"sequence_length"`
	TargetColumn   string   `json:"target_column"`
	TimestampHint  string   `json:"timestamp_hint"`
	DropColumns    []string `json:"drop_columns"`
}

// SetDefaults fills unset fields.
func (c *ProcessorConfig) SetDefaults() {
	if c.SequenceLength == 0 {
		c.SequenceLength = DefaultSequenceLength
	}
	if c.TargetColumn == "" {
		c.TargetColumn = DefaultTargetColumn
	}
	if c.TimestampHint == "" {
		c.TimestampHint = DefaultTimestampHint
	}
	if c.DropColumns == nil {
		c.DropColumns = append([]string(nil), DefaultDropColumns...)
	}
}

// Validate checks the configuration.
func (c ProcessorConfig) Validate() error {
	if c.SequenceLength < 1 {
		return fmt.Errorf("sequence_length must be positive, got %d", c.SequenceLength)
	}
	if strings.TrimSpace(c.TargetColumn) == "" {
		return fmt.Errorf("target_column is required")
	}
	if strings.TrimSpace(c.TimestampHint) == "" {
		return fmt.Errorf("timestamp_hint is required")
	}
	return nil
}

// Window is one model input: SequenceLength consecutive scaled feature rows
// and, when known, the scaled target of the row that follows them.
type Window struct {
	Features  [][]float64
	Target    float64
	HasTarget bool
}

// Processor cleans telemetry frames and turns them into windows. Preprocess
// fits its scalers and must not run concurrently with other calls; once
// fitted, the transform methods only read state.
type Processor struct {
	cfg    ProcessorConfig
	log    logger.Logger
	schema []string
	x      *Scaler
	y      *Scaler
}

// NewProcessor returns an unfitted processor. Zero-valued config fields take
// their defaults.
func NewProcessor(cfg ProcessorConfig, log logger.Logger) *Processor {
	cfg.SetDefaults()
	cfg.TargetColumn = NormalizeColumn(cfg.TargetColumn)
	cfg.TimestampHint = NormalizeColumn(cfg.TimestampHint)
	drops := make([]string, len(cfg.DropColumns))
	for i, d := range cfg.DropColumns {
		drops[i] = NormalizeColumn(d)
	}
	cfg.DropColumns = drops
	return &Processor{cfg: cfg, log: logger.OrNop(log)}
}

// Config returns the processor configuration.
func (p *Processor) Config() ProcessorConfig { return p.cfg }

// SequenceLength returns the window length.
func (p *Processor) SequenceLength() int { return p.cfg.SequenceLength }

// Fitted reports whether the scalers and schema are available.
func (p *Processor) Fitted() bool {
	return len(p.schema) > 0 && p.x.Fitted() && p.y.Fitted()
}

// Schema returns a copy of the ordered feature names chosen at fit time.
func (p *Processor) Schema() []string { return append([]string(nil), p.schema...) }

// FeatureScaler returns a copy of the fitted feature scaler.
func (p *Processor) FeatureScaler() *Scaler { return p.x.Clone() }

// TargetScaler returns a copy of the fitted target scaler.
func (p *Processor) TargetScaler() *Scaler { return p.y.Clone() }

// Restore installs a schema and scalers loaded from persisted artifacts.
func (p *Processor) Restore(schema []string, x, y *Scaler) error {
	if !x.Fitted() || !y.Fitted() {
		return ErrScalerNotFitted
	}
	if len(schema) == 0 {
		return formatErr(NoFeatures, "", "empty feature schema")
	}
	if x.Width() != len(schema) {
		return formatErr(WidthMismatch, "", "feature scaler has %d columns, schema %d", x.Width(), len(schema))
	}
	if y.Width() != 1 {
		return formatErr(WidthMismatch, p.cfg.TargetColumn, "target scaler has %d columns", y.Width())
	}
	s := make([]string, len(schema))
	for i, c := range schema {
		s[i] = NormalizeColumn(c)
	}
	p.schema, p.x, p.y = s, x.Clone(), y.Clone()
	return nil
}

type cleanRow struct {
	ts       time.Time
	features []float64
	target   float64
	labeled  bool
}

// Preprocess cleans the frame, fits the feature scaler on every remaining row
// and the target scaler on the labeled ones, and returns the training windows
// together with the feature count. Rows with an empty target stay in the
// series; only windows whose label row is unlabeled are skipped, so a frame of
// n fully labeled clean rows yields n - SequenceLength windows.
func (p *Processor) Preprocess(f *Frame) ([]Window, int, error) {
	if f == nil || len(f.Columns) == 0 {
		return nil, 0, formatErr(EmptyInput, "", "no columns")
	}
	tsIdx := p.timestampIndex(f)
	if tsIdx < 0 {
		return nil, 0, formatErr(MissingColumn, p.cfg.TimestampHint, "no column name contains %q", p.cfg.TimestampHint)
	}
	targetIdx := f.Index(p.cfg.TargetColumn)
	if targetIdx < 0 {
		return nil, 0, formatErr(MissingColumn, p.cfg.TargetColumn, "target column not found")
	}
	if !numericColumn(f, targetIdx) {
		return nil, 0, formatErr(NonNumericTarget, p.cfg.TargetColumn, "target column holds non-numeric values")
	}

	var schema []string
	var featIdx []int
	for i, c := range f.Columns {
		if i == tsIdx || i == targetIdx || p.dropped(c) {
			continue
		}
		if !numericColumn(f, i) {
			p.log.Debugf("dropping non-numeric column %s", c)
			continue
		}
		schema = append(schema, c)
		featIdx = append(featIdx, i)
	}
	if len(schema) == 0 {
		return nil, 0, formatErr(NoFeatures, "", "no numeric feature column remains")
	}

	rows, dropped := p.clean(f, tsIdx, targetIdx, featIdx)
	if dropped > 0 {
		p.log.Warnf("dropped %d of %d telemetry rows during cleaning", dropped, f.Len())
	}
	w := p.cfg.SequenceLength
	if len(rows) < w+1 {
		return nil, 0, formatErr(InsufficientRows, "", "%d clean rows, need at least %d", len(rows), w+1)
	}

	feats := make([][]float64, len(rows))
	targets := make([][]float64, 0, len(rows))
	for i, r := range rows {
		feats[i] = r.features
		if r.labeled {
			targets = append(targets, []float64{r.target})
		}
	}
	if len(targets) == 0 {
		return nil, 0, formatErr(InsufficientRows, p.cfg.TargetColumn, "no clean row carries a target")
	}
	x, y := &Scaler{}, &Scaler{}
	if err := x.Fit(feats); err != nil {
		return nil, 0, fmt.Errorf("fit feature scaler: %w", err)
	}
	if err := y.Fit(targets); err != nil {
		return nil, 0, fmt.Errorf("fit target scaler: %w", err)
	}
	p.schema, p.x, p.y = schema, x, y

	all, err := p.windows(rows, false)
	if err != nil {
		return nil, 0, err
	}
	windows := make([]Window, 0, len(all))
	for _, win := range all {
		if win.HasTarget {
			windows = append(windows, win)
		}
	}
	if skipped := len(all) - len(windows); skipped > 0 {
		p.log.Warnf("skipped %d windows whose label row has no target", skipped)
	}
	if len(windows) == 0 {
		return nil, 0, formatErr(InsufficientRows, p.cfg.TargetColumn, "no window has a labeled following row")
	}
	p.log.Infof("preprocessed %d rows into %d windows of %d steps over %d features", len(rows), len(windows), w, len(schema))
	return windows, len(schema), nil
}

// TransformOnly applies the fitted scalers to a frame without refitting. The
// timestamp and target columns are optional; when the target is present the
// windows that have a following row carry its scaled value. A frame of n clean
// rows yields n - SequenceLength + 1 windows.
func (p *Processor) TransformOnly(f *Frame) ([]Window, error) {
	if !p.Fitted() {
		return nil, ErrScalerNotFitted
	}
	if f == nil {
		return nil, formatErr(EmptyInput, "", "nil frame")
	}
	featIdx := make([]int, len(p.schema))
	for i, c := range p.schema {
		idx := f.Index(c)
		if idx < 0 {
			return nil, formatErr(MissingColumn, c, "feature column not found")
		}
		featIdx[i] = idx
	}
	tsIdx := p.timestampIndex(f)
	targetIdx := f.Index(p.cfg.TargetColumn)
	rows, dropped := p.clean(f, tsIdx, targetIdx, featIdx)
	if dropped > 0 {
		p.log.Warnf("dropped %d of %d telemetry rows during cleaning", dropped, f.Len())
	}
	return p.windows(rows, true)
}

// TransformRows scales exactly SequenceLength named rows, in order, into one
// window. Every schema field must be present in every row; extra fields are
// ignored.
func (p *Processor) TransformRows(rows []map[string]float64) (Window, error) {
	if !p.Fitted() {
		return Window{}, ErrScalerNotFitted
	}
	if len(rows) != p.cfg.SequenceLength {
		return Window{}, formatErr(WrongLength, "", "got %d rows, want %d", len(rows), p.cfg.SequenceLength)
	}
	feats := make([][]float64, len(rows))
	for i, r := range rows {
		raw := make([]float64, len(p.schema))
		for j, c := range p.schema {
			v, ok := r[c]
			if !ok {
				return Window{}, formatErr(MissingColumn, c, "row %d lacks field", i)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Window{}, formatErr(InvalidValue, c, "row %d holds a null, non-numeric or non-finite value", i)
			}
			raw[j] = v
		}
		scaled, err := p.x.TransformRow(raw)
		if err != nil {
			return Window{}, err
		}
		feats[i] = scaled
	}
	return Window{Features: feats}, nil
}

// ScaleTarget maps a target in km to model units.
func (p *Processor) ScaleTarget(km float64) (float64, error) {
	out, err := p.y.TransformRow([]float64{km})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// InverseTarget maps a scaled model output back to km.
func (p *Processor) InverseTarget(scaled float64) (float64, error) {
	out, err := p.y.InverseRow([]float64{scaled})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (p *Processor) timestampIndex(f *Frame) int {
	for i, c := range f.Columns {
		if strings.Contains(c, p.cfg.TimestampHint) {
			return i
		}
	}
	return -1
}

func (p *Processor) dropped(col string) bool {
	for _, d := range p.cfg.DropColumns {
		if d == col {
			return true
		}
	}
	return false
}

// clean parses the selected columns of every row, dropping rows with an
// unparsable timestamp or an empty or invalid feature value. Rows without a
// numeric target are kept unlabeled. Rows are stably sorted by timestamp when
// a timestamp column is present.
func (p *Processor) clean(f *Frame, tsIdx, targetIdx int, featIdx []int) ([]cleanRow, int) {
	out := make([]cleanRow, 0, len(f.Rows))
	dropped := 0
rows:
	for _, rec := range f.Rows {
		var r cleanRow
		if tsIdx >= 0 {
			ts, err := ParseTimestamp(rec[tsIdx])
			if err != nil {
				dropped++
				continue
			}
			r.ts = ts
		}
		r.features = make([]float64, len(featIdx))
		for j, idx := range featIdx {
			v, ok := parseNumber(rec[idx])
			if !ok {
				dropped++
				continue rows
			}
			r.features[j] = v
		}
		if targetIdx >= 0 {
			if v, ok := parseNumber(rec[targetIdx]); ok {
				r.target, r.labeled = v, true
			}
		}
		out = append(out, r)
	}
	if tsIdx >= 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ts.Before(out[j].ts) })
	}
	return out, dropped
}

// windows slides a SequenceLength window with stride 1 over rows. Training
// windows stop where no label row remains; inference windows run to the end.
func (p *Processor) windows(rows []cleanRow, inference bool) ([]Window, error) {
	w := p.cfg.SequenceLength
	n := len(rows) - w
	if inference {
		n++
	}
	if n <= 0 {
		return []Window{}, nil
	}
	scaled := make([][]float64, len(rows))
	for i, r := range rows {
		s, err := p.x.TransformRow(r.features)
		if err != nil {
			return nil, err
		}
		scaled[i] = s
	}
	out := make([]Window, n)
	for i := range out {
		out[i].Features = scaled[i : i+w : i+w]
		if i+w < len(rows) && rows[i+w].labeled {
			t, err := p.ScaleTarget(rows[i+w].target)
			if err != nil {
				return nil, err
			}
			out[i].Target, out[i].HasTarget = t, true
		}
	}
	return out, nil
}

// numericColumn reports whether every non-empty cell parses as a finite
// number and at least one cell is non-empty.
func numericColumn(f *Frame, idx int) bool {
	seen := false
	for _, rec := range f.Rows {
		s := strings.TrimSpace(rec[idx])
		if s == "" {
			continue
		}
		if _, ok := parseNumber(s); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
}

// ParseTimestamp accepts RFC 3339 and the common space-separated variants,
// as well as Unix epoch seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

package prediction

import (
	"encoding/json"
	"fmt"
	"math"
)

// Row is one telemetry sample keyed by field name. Decoding from JSON keeps
// every field: numbers are stored as is, while null, strings, booleans and
// nested values are stored as NaN so the processor rejects them when the
// field is part of the schema. Fields outside the schema are ignored.
type Row map[string]float64

// UnmarshalJSON implements json.Unmarshaler.
func (r *Row) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("row must be a JSON object: %w", err)
	}
	if fields == nil {
		*r = nil
		return nil
	}
	out := make(Row, len(fields))
	for k, raw := range fields {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil || string(raw) == "null" {
			v = math.NaN()
		}
		out[k] = v
	}
	*r = out
	return nil
}

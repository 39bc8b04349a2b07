package models

import "time"

// RawRecord is one decoded sensor observation: a timestamp plus a mapping
// of field name to decoded value. A batch of RawRecords lives only for the
// duration of one message's processing and is never persisted.
type RawRecord struct {
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Float returns the named field as a float64 if present and numeric.
// JSON decoding yields float64 for all numbers; int is accepted for
// records built in tests.
func (r *RawRecord) Float(name string) (float64, bool) {
	v, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

// Has reports whether the named field is present.
func (r *RawRecord) Has(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

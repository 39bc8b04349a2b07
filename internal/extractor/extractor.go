// Package extractor decodes raw upload bytes into records. Uploads under
// raw/ are either JSON Lines (one object per line) or a single JSON array.
package extractor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"etl-narrative-engine/internal/models"
)

// Extract decodes a raw object body into RawRecords. A mismatch between
// the declared and decoded record count is a warning, not an error;
// undecodable payloads are errors and route to quarantine.
func Extract(data []byte, declaredCount int) ([]models.RawRecord, []string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("empty payload")
	}

	var records []models.RawRecord
	var err error
	if trimmed[0] == '[' {
		records, err = extractArray(trimmed)
	} else {
		records, err = extractLines(trimmed)
	}
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if declaredCount > 0 && declaredCount != len(records) {
		warnings = append(warnings,
			fmt.Sprintf("declared record count %d does not match decoded count %d", declaredCount, len(records)))
	}
	return records, warnings, nil
}

func extractArray(data []byte) ([]models.RawRecord, error) {
	var objects []map[string]interface{}
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, fmt.Errorf("failed to decode record array: %w", err)
	}
	records := make([]models.RawRecord, 0, len(objects))
	for i, obj := range objects {
		rec, err := toRecord(obj)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func extractLines(data []byte) ([]models.RawRecord, error) {
	var records []models.RawRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(text, &obj); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode record: %w", line, err)
		}
		rec, err := toRecord(obj)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan payload: %w", err)
	}
	return records, nil
}

// toRecord pulls the timestamp out of the object and keeps the remaining
// fields as the observation. Timestamps are RFC3339 strings or unix
// seconds.
func toRecord(obj map[string]interface{}) (models.RawRecord, error) {
	raw, ok := obj["timestamp"]
	if !ok {
		// A record without a timestamp is still extractable; the
		// validator counts it as a schema error.
		return models.RawRecord{Fields: obj}, nil
	}

	var ts time.Time
	switch v := raw.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return models.RawRecord{}, fmt.Errorf("invalid timestamp %q: %w", v, err)
		}
		ts = parsed
	case float64:
		ts = time.Unix(int64(v), 0).UTC()
	default:
		return models.RawRecord{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}

	fields := make(map[string]interface{}, len(obj)-1)
	for k, v := range obj {
		if k == "timestamp" {
			continue
		}
		fields[k] = v
	}
	return models.RawRecord{Timestamp: ts, Fields: fields}, nil
}

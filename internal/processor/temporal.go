package processor

import (
	"time"

	"etl-narrative-engine/internal/models"
)

// TemporalSummary describes when a batch's observations were collected.
type TemporalSummary struct {
	HourHistogram       [24]int
	WeekdayHistogram    [7]int
	SpanHours           float64
	MeanIntervalSeconds float64
}

// Temporal extracts hour-of-day and day-of-week histograms, the collection
// span, and the mean inter-sample interval from a batch.
func Temporal(records []models.RawRecord) TemporalSummary {
	var ts TemporalSummary
	if len(records) == 0 {
		return ts
	}

	var first, last time.Time
	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			continue
		}
		ts.HourHistogram[rec.Timestamp.UTC().Hour()]++
		ts.WeekdayHistogram[int(rec.Timestamp.UTC().Weekday())]++
		if first.IsZero() || rec.Timestamp.Before(first) {
			first = rec.Timestamp
		}
		if last.IsZero() || rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	if first.IsZero() {
		return ts
	}

	span := last.Sub(first)
	ts.SpanHours = span.Hours()
	if len(records) > 1 {
		ts.MeanIntervalSeconds = span.Seconds() / float64(len(records)-1)
	}
	return ts
}

// AsMap flattens the temporal summary for insight metadata.
func (t TemporalSummary) AsMap() map[string]interface{} {
	hours := make([]int, 24)
	copy(hours, t.HourHistogram[:])
	weekdays := make([]int, 7)
	copy(weekdays, t.WeekdayHistogram[:])
	return map[string]interface{}{
		"hour_histogram":        hours,
		"weekday_histogram":     weekdays,
		"span_hours":            round1(t.SpanHours),
		"mean_interval_seconds": round1(t.MeanIntervalSeconds),
	}
}

// dayKey groups a timestamp into its UTC calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

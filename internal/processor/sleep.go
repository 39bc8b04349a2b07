package processor

import (
	"context"
	"fmt"
	"math"
	"time"

	"etl-narrative-engine/internal/clinical"
	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// SleepProcessor analyzes sleep-session batches: duration, efficiency,
// stage composition, onset latency and schedule consistency. One record
// is one session.
type SleepProcessor struct {
	logger *zap.Logger
	ranges clinical.Range
}

func NewSleepProcessor(logger *zap.Logger) *SleepProcessor {
	return &SleepProcessor{logger: logger}
}

func (p *SleepProcessor) Initialize() error {
	r, ok := clinical.FieldRange(models.RecordTypeSleepSession, "duration_minutes")
	if !ok {
		return fmt.Errorf("missing clinical range table for duration_minutes")
	}
	p.ranges = r
	return nil
}

func (p *SleepProcessor) Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error) {
	start := time.Now()

	durations := collectField(records, "duration_minutes")
	if len(durations) == 0 {
		return nil, fmt.Errorf("no sleep durations in batch of %d records", len(records))
	}

	summary := Describe(durations)
	efficiency := sleepEfficiency(records)
	stages := stageFractions(records, summary)
	latency := meanField(records, "onset_latency_minutes")
	consistency := bedtimeConsistency(records)

	assessment := map[string]string{
		"sleep_duration":    durationTier(summary.Mean),
		"sleep_efficiency":  efficiencyTier(efficiency),
		"sleep_consistency": consistencyTier(consistency),
	}

	insight := &models.ClinicalInsight{
		Domain: "sleep_statistics",
		Statistics: map[string]interface{}{
			"summary":             summary.AsMap(),
			"mean_duration_hours": round1(summary.Mean / 60),
			"efficiency_pct":      round1(efficiency),
			"stage_fractions":     stages,
			"onset_latency_mean":  round1(latency),
			"bedtime_hour_std":    round1(consistency),
		},
		TemporalPatterns: Temporal(records).AsMap(),
		Assessment:       assessment,
		Recommendations:  p.recommendations(assessment),
	}

	return &models.ProcessingResult{
		Success:          true,
		Narrative:        p.narrative(summary, efficiency, assessment),
		ProcessingTime:   time.Since(start),
		RecordsProcessed: len(records),
		QualityScore:     validation.QualityScore,
		Insight:          insight,
	}, nil
}

// sleepEfficiency is total asleep time over total time in bed, as a
// percentage. Sessions without time_in_bed_minutes fall back to their
// duration, contributing 100% efficiency.
func sleepEfficiency(records []models.RawRecord) float64 {
	asleep, inBed := 0.0, 0.0
	for i := range records {
		d, ok := records[i].Float("duration_minutes")
		if !ok {
			continue
		}
		asleep += d
		if tib, ok := records[i].Float("time_in_bed_minutes"); ok && tib > 0 {
			inBed += tib
		} else {
			inBed += d
		}
	}
	if inBed == 0 {
		return 0
	}
	return asleep / inBed * 100
}

// stageFractions reports deep/REM/light minutes as fractions of total
// sleep, when stage fields are present.
func stageFractions(records []models.RawRecord, summary Summary) map[string]float64 {
	total := summary.Mean * float64(summary.Count)
	if total == 0 {
		return nil
	}
	fractions := map[string]float64{}
	for _, stage := range []string{"deep_minutes", "rem_minutes", "light_minutes"} {
		sum := 0.0
		seen := false
		for i := range records {
			if v, ok := records[i].Float(stage); ok {
				sum += v
				seen = true
			}
		}
		if seen {
			fractions[stage] = math.Round(sum/total*1000) / 10
		}
	}
	if len(fractions) == 0 {
		return nil
	}
	return fractions
}

// bedtimeConsistency is the standard deviation of session start hours
// (circular wrap ignored; sessions starting around midnight overstate it).
func bedtimeConsistency(records []models.RawRecord) float64 {
	var hours []float64
	for i := range records {
		if records[i].Timestamp.IsZero() {
			continue
		}
		hours = append(hours, float64(records[i].Timestamp.UTC().Hour()))
	}
	if len(hours) == 0 {
		return 0
	}
	return Describe(hours).Std
}

func meanField(records []models.RawRecord, field string) float64 {
	values := collectField(records, field)
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func durationTier(meanMinutes float64) string {
	switch {
	case meanMinutes > clinical.SleepOptimalUpperMin:
		return "long"
	case meanMinutes >= clinical.SleepOptimalLowerMin:
		return "optimal"
	case meanMinutes >= clinical.SleepShortMin:
		return "short"
	default:
		return "insufficient"
	}
}

func efficiencyTier(pct float64) string {
	switch {
	case pct >= 85:
		return "good"
	case pct >= 75:
		return "fair"
	default:
		return "poor"
	}
}

func consistencyTier(std float64) string {
	switch {
	case std <= 1:
		return "consistent"
	case std <= 2:
		return "variable"
	default:
		return "irregular"
	}
}

func (p *SleepProcessor) narrative(summary Summary, efficiency float64, assessment map[string]string) string {
	text := fmt.Sprintf("Analyzed %d sleep sessions averaging %.1f hours.", summary.Count, summary.Mean/60)
	text += fmt.Sprintf(" Sleep duration is %s relative to the 7-9 hour guideline.", assessment["sleep_duration"])
	text += fmt.Sprintf(" Sleep efficiency was %.1f%% (%s).", efficiency, assessment["sleep_efficiency"])
	text += fmt.Sprintf(" Bedtime schedule is %s.", assessment["sleep_consistency"])
	return text
}

func (p *SleepProcessor) recommendations(assessment map[string]string) []string {
	recs := []string{}
	switch assessment["sleep_duration"] {
	case "insufficient", "short":
		recs = append(recs, "Average sleep is below the 7-9 hour guideline; consider an earlier, consistent bedtime.")
	case "long":
		recs = append(recs, "Average sleep exceeds 9 hours; persistent long sleep can be worth discussing with a clinician.")
	}
	if assessment["sleep_efficiency"] == "poor" {
		recs = append(recs, "Low sleep efficiency detected; limiting screen time in bed may help consolidate sleep.")
	}
	if assessment["sleep_consistency"] == "irregular" {
		recs = append(recs, "Bedtimes vary widely; a regular sleep schedule improves sleep quality.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Sleep patterns look healthy; maintain the current routine.")
	}
	return recs
}

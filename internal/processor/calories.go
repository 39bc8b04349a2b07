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

// CaloriesProcessor analyzes active-energy batches: daily expenditure,
// intensity mix (kcal/min) and day-to-day consistency.
type CaloriesProcessor struct {
	logger *zap.Logger
	ranges clinical.Range
}

func NewCaloriesProcessor(logger *zap.Logger) *CaloriesProcessor {
	return &CaloriesProcessor{logger: logger}
}

func (p *CaloriesProcessor) Initialize() error {
	r, ok := clinical.FieldRange(models.RecordTypeCalories, "energy_kcal")
	if !ok {
		return fmt.Errorf("missing clinical range table for energy_kcal")
	}
	p.ranges = r
	return nil
}

func (p *CaloriesProcessor) Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error) {
	start := time.Now()

	daily := dailyTotals(records, "energy_kcal")
	if len(daily.days) == 0 {
		return nil, fmt.Errorf("no energy values in batch of %d records", len(records))
	}

	summary := Describe(daily.totals)
	intensity := intensityMix(records)

	assessment := map[string]string{
		"expenditure_level":       expenditureTier(summary.Mean),
		"expenditure_consistency": consistencyFromCV(summary.CV),
	}

	insight := &models.ClinicalInsight{
		Domain: "energy_statistics",
		Statistics: map[string]interface{}{
			"summary":         summary.AsMap(),
			"days_observed":   len(daily.days),
			"mean_daily_kcal": round1(summary.Mean),
			"intensity_mix":   intensity,
			"daily_cv":        round1(summary.CV),
		},
		TemporalPatterns: Temporal(records).AsMap(),
		Assessment:       assessment,
		Recommendations:  p.recommendations(assessment),
	}

	return &models.ProcessingResult{
		Success:          true,
		Narrative:        p.narrative(summary, len(daily.days), assessment),
		ProcessingTime:   time.Since(start),
		RecordsProcessed: len(records),
		QualityScore:     validation.QualityScore,
		Insight:          insight,
	}, nil
}

// intensityMix buckets burn rate per record: light <3.5 kcal/min,
// moderate 3.5-7, vigorous >7. Records without a duration are skipped.
func intensityMix(records []models.RawRecord) map[string]float64 {
	mix := map[string]float64{"light": 0, "moderate": 0, "vigorous": 0}
	counted := 0
	for i := range records {
		kcal, ok := records[i].Float("energy_kcal")
		if !ok {
			continue
		}
		minutes, ok := records[i].Float("duration_minutes")
		if !ok || minutes <= 0 {
			continue
		}
		counted++
		rate := kcal / minutes
		switch {
		case rate < 3.5:
			mix["light"]++
		case rate <= 7:
			mix["moderate"]++
		default:
			mix["vigorous"]++
		}
	}
	if counted == 0 {
		return nil
	}
	for k := range mix {
		mix[k] = math.Round(mix[k]/float64(counted)*1000) / 10
	}
	return mix
}

func expenditureTier(meanDailyKcal float64) string {
	switch {
	case meanDailyKcal >= 600:
		return "high"
	case meanDailyKcal >= 400:
		return "moderate"
	case meanDailyKcal >= 200:
		return "light"
	default:
		return "sedentary"
	}
}

func consistencyFromCV(cv float64) string {
	switch {
	case cv <= 25:
		return "consistent"
	case cv <= 50:
		return "variable"
	default:
		return "sporadic"
	}
}

func (p *CaloriesProcessor) narrative(summary Summary, days int, assessment map[string]string) string {
	text := fmt.Sprintf("Analyzed active energy expenditure across %d days averaging %.0f kcal per day.", days, summary.Mean)
	text += fmt.Sprintf(" Expenditure level is %s and day-to-day consistency is %s.",
		assessment["expenditure_level"], assessment["expenditure_consistency"])
	return text
}

func (p *CaloriesProcessor) recommendations(assessment map[string]string) []string {
	recs := []string{}
	switch assessment["expenditure_level"] {
	case "sedentary":
		recs = append(recs, "Active energy expenditure is very low; increasing daily movement benefits cardiovascular health.")
	case "light":
		recs = append(recs, "Consider adding moderate-intensity sessions to raise daily active energy burn.")
	}
	if assessment["expenditure_consistency"] == "sporadic" {
		recs = append(recs, "Activity is concentrated in a few days; spreading exercise across the week is more sustainable.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Energy expenditure is on track; maintain the current activity mix.")
	}
	return recs
}

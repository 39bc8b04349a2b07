package processor

import (
	"context"
	"fmt"
	"time"

	"etl-narrative-engine/internal/clinical"
	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// HRVProcessor analyzes heart-rate-variability batches: RMSSD level and
// trend, and an autonomic-balance assessment.
type HRVProcessor struct {
	logger *zap.Logger
	ranges clinical.Range
}

func NewHRVProcessor(logger *zap.Logger) *HRVProcessor {
	return &HRVProcessor{logger: logger}
}

func (p *HRVProcessor) Initialize() error {
	r, ok := clinical.FieldRange(models.RecordTypeHRV, "rmssd_ms")
	if !ok {
		return fmt.Errorf("missing clinical range table for rmssd_ms")
	}
	p.ranges = r
	return nil
}

func (p *HRVProcessor) Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error) {
	start := time.Now()

	values := collectField(records, "rmssd_ms")
	if len(values) == 0 {
		return nil, fmt.Errorf("no RMSSD values in batch of %d records", len(records))
	}

	summary := Describe(values)
	trendDelta, trend := rmssdTrend(values)
	balance := autonomicBalance(summary.Mean)
	stressed := summary.Mean < clinical.RMSSDModerateLower || (trend == "declining" && trendDelta < -10)

	assessment := map[string]string{
		"autonomic_balance": balance,
		"rmssd_trend":       trend,
	}
	if stressed {
		assessment["stress_indicator"] = "present"
	} else {
		assessment["stress_indicator"] = "absent"
	}

	insight := &models.ClinicalInsight{
		Domain: "hrv_statistics",
		Statistics: map[string]interface{}{
			"summary":        summary.AsMap(),
			"mean_rmssd_ms":  round1(summary.Mean),
			"sdnn_ms":        round1(summary.Std),
			"trend_delta_ms": round1(trendDelta),
		},
		TemporalPatterns: Temporal(records).AsMap(),
		Assessment:       assessment,
		Recommendations:  p.recommendations(assessment),
	}

	return &models.ProcessingResult{
		Success:          true,
		Narrative:        p.narrative(summary, trend, assessment),
		ProcessingTime:   time.Since(start),
		RecordsProcessed: len(records),
		QualityScore:     validation.QualityScore,
		Insight:          insight,
	}, nil
}

// rmssdTrend compares the mean of the second half of the series to the
// first half (chronological assumption follows the validator's temporal
// check). Deltas within 5 ms are treated as stable.
func rmssdTrend(values []float64) (float64, string) {
	if len(values) < 4 {
		return 0, "stable"
	}
	mid := len(values) / 2
	firstMean := mean(values[:mid])
	secondMean := mean(values[mid:])
	delta := secondMean - firstMean
	switch {
	case delta > 5:
		return delta, "improving"
	case delta < -5:
		return delta, "declining"
	default:
		return delta, "stable"
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func autonomicBalance(meanRMSSD float64) string {
	switch {
	case meanRMSSD >= clinical.RMSSDBalancedLower:
		return "balanced"
	case meanRMSSD >= clinical.RMSSDModerateLower:
		return "moderate"
	default:
		return "low"
	}
}

func (p *HRVProcessor) narrative(summary Summary, trend string, assessment map[string]string) string {
	text := fmt.Sprintf("Analyzed %d HRV samples with a mean RMSSD of %.1f ms.", summary.Count, summary.Mean)
	text += fmt.Sprintf(" Autonomic balance is %s and the RMSSD trend over the collection window is %s.",
		assessment["autonomic_balance"], trend)
	if assessment["stress_indicator"] == "present" {
		text += " Indicators consistent with elevated physiological stress were detected."
	}
	return text
}

func (p *HRVProcessor) recommendations(assessment map[string]string) []string {
	recs := []string{}
	if assessment["autonomic_balance"] == "low" {
		recs = append(recs, "HRV is low; prioritizing sleep and recovery days can improve autonomic balance.")
	}
	if assessment["rmssd_trend"] == "declining" {
		recs = append(recs, "HRV is trending downward; consider reducing training load or stressors this week.")
	}
	if assessment["stress_indicator"] == "present" {
		recs = append(recs, "Stress indicators present; breathing exercises and consistent sleep may help recovery.")
	}
	if len(recs) == 0 {
		recs = append(recs, "HRV profile indicates good recovery; maintain the current balance of activity and rest.")
	}
	return recs
}

package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"etl-narrative-engine/internal/clinical"
	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// HeartRateProcessor analyzes heart-rate batches: resting estimate, zone
// distribution, tachycardia/bradycardia counts and a recovery proxy.
type HeartRateProcessor struct {
	logger *zap.Logger
	ranges clinical.Range
}

func NewHeartRateProcessor(logger *zap.Logger) *HeartRateProcessor {
	return &HeartRateProcessor{logger: logger}
}

func (p *HeartRateProcessor) Initialize() error {
	r, ok := clinical.FieldRange(models.RecordTypeHeartRate, "bpm")
	if !ok {
		return fmt.Errorf("missing clinical range table for bpm")
	}
	p.ranges = r
	return nil
}

func (p *HeartRateProcessor) Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error) {
	start := time.Now()

	values := collectField(records, "bpm")
	if len(values) == 0 {
		return nil, fmt.Errorf("no heart rate values in batch of %d records", len(records))
	}

	summary := Describe(values)
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	// Resting estimate from the low tail of the distribution.
	resting := Percentile(sorted, 5)
	zones := heartRateZones(values)
	tachy, brady := 0, 0
	for _, v := range values {
		if v > clinical.TachycardiaThreshold {
			tachy++
		}
		if v < clinical.BradycardiaThreshold {
			brady++
		}
	}
	recovery := recoveryProxy(values)

	assessment := map[string]string{
		"fitness_level":    fitnessTier(resting),
		"rhythm_stability": rhythmTier(summary.CV),
	}

	insight := &models.ClinicalInsight{
		Domain: "heart_rate_statistics",
		Statistics: map[string]interface{}{
			"summary":           summary.AsMap(),
			"resting_estimate":  round1(resting),
			"max_observed":      summary.Max,
			"zones":             zones,
			"tachycardia_count": tachy,
			"bradycardia_count": brady,
			"recovery_drop":     round1(recovery),
		},
		TemporalPatterns: Temporal(records).AsMap(),
		Assessment:       assessment,
		Recommendations:  p.recommendations(assessment, tachy, brady),
	}

	return &models.ProcessingResult{
		Success:          true,
		Narrative:        p.narrative(summary, resting, zones, assessment),
		ProcessingTime:   time.Since(start),
		RecordsProcessed: len(records),
		QualityScore:     validation.QualityScore,
		Insight:          insight,
	}, nil
}

// heartRateZones buckets samples by percentage of the fixed HRmax ceiling:
// rest <50%, moderate 50-70%, vigorous 70-85%, peak >85%.
func heartRateZones(values []float64) map[string]float64 {
	zones := map[string]float64{"rest": 0, "moderate": 0, "vigorous": 0, "peak": 0}
	for _, v := range values {
		pct := v / clinical.HRMaxCeiling
		switch {
		case pct < clinical.HRZoneModerateLower:
			zones["rest"]++
		case pct < clinical.HRZoneVigorousLower:
			zones["moderate"]++
		case pct < clinical.HRZonePeakLower:
			zones["vigorous"]++
		default:
			zones["peak"]++
		}
	}
	total := float64(len(values))
	for k := range zones {
		zones[k] = math.Round(zones[k]/total*1000) / 10
	}
	return zones
}

// recoveryProxy averages the drop from each local peak to the following
// trough; higher drops indicate faster recovery after exertion.
func recoveryProxy(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	var drops []float64
	for i := 1; i < len(values)-1; i++ {
		if values[i] > values[i-1] && values[i] > values[i+1] {
			// Walk forward to the next trough.
			j := i + 1
			for j < len(values)-1 && values[j+1] < values[j] {
				j++
			}
			drops = append(drops, values[i]-values[j])
		}
	}
	if len(drops) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range drops {
		sum += d
	}
	return sum / float64(len(drops))
}

func fitnessTier(resting float64) string {
	switch {
	case resting < 60:
		return "excellent"
	case resting < 70:
		return "good"
	case resting < 80:
		return "fair"
	default:
		return "poor"
	}
}

func rhythmTier(cv float64) string {
	switch {
	case cv <= 15:
		return "stable"
	case cv <= 30:
		return "variable"
	default:
		return "erratic"
	}
}

func (p *HeartRateProcessor) narrative(summary Summary, resting float64, zones map[string]float64, assessment map[string]string) string {
	text := fmt.Sprintf("Analyzed %d heart rate samples with a mean of %.0f bpm.", summary.Count, summary.Mean)
	text += fmt.Sprintf(" Estimated resting heart rate is %.0f bpm, indicating %s cardiovascular fitness.",
		resting, assessment["fitness_level"])
	text += fmt.Sprintf(" Time distribution by intensity: %.1f%% rest, %.1f%% moderate, %.1f%% vigorous, %.1f%% peak.",
		zones["rest"], zones["moderate"], zones["vigorous"], zones["peak"])
	text += fmt.Sprintf(" Peak observed rate was %.0f bpm.", summary.Max)
	return text
}

func (p *HeartRateProcessor) recommendations(assessment map[string]string, tachy, brady int) []string {
	recs := []string{}
	if assessment["fitness_level"] == "poor" || assessment["fitness_level"] == "fair" {
		recs = append(recs, "Resting heart rate is elevated; regular aerobic exercise can lower it over time.")
	}
	if tachy > 0 {
		recs = append(recs, fmt.Sprintf("%d samples above 100 bpm; if these occurred at rest, consider discussing with a clinician.", tachy))
	}
	if brady > 0 {
		recs = append(recs, fmt.Sprintf("%d samples below 50 bpm detected; this can be normal for trained individuals but is worth noting.", brady))
	}
	if len(recs) == 0 {
		recs = append(recs, "Heart rate profile looks healthy; keep up the current activity level.")
	}
	return recs
}

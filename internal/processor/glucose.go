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

// GlucoseProcessor analyzes blood glucose batches: time-in-range buckets,
// glycemic variability (SD, CV, simplified MAGE), estimated HbA1c, and
// hypo/hyper event counts.
type GlucoseProcessor struct {
	logger *zap.Logger
	ranges clinical.Range
}

func NewGlucoseProcessor(logger *zap.Logger) *GlucoseProcessor {
	return &GlucoseProcessor{logger: logger}
}

func (p *GlucoseProcessor) Initialize() error {
	r, ok := clinical.FieldRange(models.RecordTypeBloodGlucose, "glucose_mgdl")
	if !ok {
		return fmt.Errorf("missing clinical range table for glucose_mgdl")
	}
	p.ranges = r
	return nil
}

func (p *GlucoseProcessor) Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error) {
	start := time.Now()

	values := collectField(records, "glucose_mgdl")
	if len(values) == 0 {
		return nil, fmt.Errorf("no glucose values in batch of %d records", len(records))
	}

	summary := Describe(values)
	tir := timeInRange(values)
	mage := simplifiedMAGE(values, summary.Std)
	hba1c := math.Round((summary.Mean+clinical.ADAGOffset)/clinical.ADAGDivisor*10) / 10
	events := glucoseEvents(values)

	assessment := map[string]string{
		"control_quality":   controlQuality(tir["target_range"]),
		"variability":       variabilityTier(summary.CV),
		"hypoglycemia_risk": hypoRisk(events),
	}

	insight := &models.ClinicalInsight{
		Domain: "glucose_statistics",
		Statistics: map[string]interface{}{
			"summary":       summary.AsMap(),
			"time_in_range": tir,
			"variability": map[string]interface{}{
				"std":  round1(summary.Std),
				"cv":   round1(summary.CV),
				"mage": round1(mage),
			},
			"estimated_hba1c": hba1c,
			"events":          events,
		},
		TemporalPatterns: Temporal(records).AsMap(),
		Assessment:       assessment,
		Recommendations:  p.recommendations(assessment),
	}

	return &models.ProcessingResult{
		Success:          true,
		Narrative:        p.narrative(summary, tir, events, hba1c, assessment),
		ProcessingTime:   time.Since(start),
		RecordsProcessed: len(records),
		QualityScore:     validation.QualityScore,
		Insight:          insight,
	}, nil
}

// timeInRange computes the consensus glucose bucket percentages:
// severe-hypo <54, hypo [54,70), target [70,180], hyper (180,250],
// severe-hyper >250.
func timeInRange(values []float64) map[string]float64 {
	buckets := map[string]float64{
		"severe_hypoglycemia":  0,
		"hypoglycemia":         0,
		"target_range":         0,
		"hyperglycemia":        0,
		"severe_hyperglycemia": 0,
	}
	for _, v := range values {
		switch {
		case v < clinical.GlucoseSevereHypoLimit:
			buckets["severe_hypoglycemia"]++
		case v < clinical.GlucoseHypoLimit:
			buckets["hypoglycemia"]++
		case v <= clinical.GlucoseTargetUpper:
			buckets["target_range"]++
		case v <= clinical.GlucoseSevereHyper:
			buckets["hyperglycemia"]++
		default:
			buckets["severe_hyperglycemia"]++
		}
	}
	total := float64(len(values))
	for k := range buckets {
		buckets[k] = math.Round(buckets[k]/total*1000) / 10
	}
	return buckets
}

// simplifiedMAGE computes the mean amplitude of glycemic excursions from
// local peak/trough detection; an excursion counts only if its magnitude
// exceeds one standard deviation.
func simplifiedMAGE(values []float64, std float64) float64 {
	if len(values) < 3 || std == 0 {
		return 0
	}

	// Collect local extrema (turning points), endpoints included.
	extrema := []float64{values[0]}
	for i := 1; i < len(values)-1; i++ {
		prev, cur, next := values[i-1], values[i], values[i+1]
		if (cur > prev && cur > next) || (cur < prev && cur < next) {
			extrema = append(extrema, cur)
		}
	}
	extrema = append(extrema, values[len(values)-1])

	var amplitudes []float64
	for i := 1; i < len(extrema); i++ {
		amp := math.Abs(extrema[i] - extrema[i-1])
		if amp > std {
			amplitudes = append(amplitudes, amp)
		}
	}
	if len(amplitudes) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range amplitudes {
		sum += a
	}
	return sum / float64(len(amplitudes))
}

// glucoseEvents counts out-of-range readings and events, where an event is
// a run of at least three consecutive out-of-range readings. This is a
// simplified grouping, not true episode detection.
func glucoseEvents(values []float64) map[string]int {
	events := map[string]int{
		"readings_below_70":  0,
		"readings_below_54":  0,
		"readings_above_180": 0,
		"readings_above_250": 0,
	}
	for _, v := range values {
		if v < clinical.GlucoseHypoLimit {
			events["readings_below_70"]++
		}
		if v < clinical.GlucoseSevereHypoLimit {
			events["readings_below_54"]++
		}
		if v > clinical.GlucoseTargetUpper {
			events["readings_above_180"]++
		}
		if v > clinical.GlucoseSevereHyper {
			events["readings_above_250"]++
		}
	}
	events["hypo_events"] = countRuns(values, func(v float64) bool { return v < clinical.GlucoseHypoLimit })
	events["severe_hypo_events"] = countRuns(values, func(v float64) bool { return v < clinical.GlucoseSevereHypoLimit })
	events["hyper_events"] = countRuns(values, func(v float64) bool { return v > clinical.GlucoseTargetUpper })
	events["severe_hyper_events"] = countRuns(values, func(v float64) bool { return v > clinical.GlucoseSevereHyper })
	return events
}

// countRuns counts maximal runs of at least three consecutive readings
// matching the predicate; each qualifying run is one event.
func countRuns(values []float64, match func(float64) bool) int {
	events := 0
	run := 0
	for _, v := range values {
		if match(v) {
			run++
		} else {
			if run >= 3 {
				events++
			}
			run = 0
		}
	}
	if run >= 3 {
		events++
	}
	return events
}

func controlQuality(targetPct float64) string {
	switch {
	case targetPct >= 70:
		return "excellent"
	case targetPct >= 50:
		return "good"
	case targetPct >= 30:
		return "fair"
	default:
		return "poor"
	}
}

func variabilityTier(cv float64) string {
	switch {
	case cv <= 36:
		return "low"
	case cv <= 50:
		return "moderate"
	default:
		return "high"
	}
}

func hypoRisk(events map[string]int) string {
	switch {
	case events["severe_hypo_events"] > 0 || events["readings_below_54"] > 0:
		return "high"
	case events["hypo_events"] > 0 || events["readings_below_70"] > 2:
		return "elevated"
	case events["readings_below_70"] > 0:
		return "moderate"
	default:
		return "low"
	}
}

// narrative composes the fixed ordered sentence summary.
func (p *GlucoseProcessor) narrative(summary Summary, tir map[string]float64, events map[string]int, hba1c float64, assessment map[string]string) string {
	text := fmt.Sprintf("Analyzed %d blood glucose readings with a mean of %.1f mg/dL.", summary.Count, summary.Mean)
	text += fmt.Sprintf(" Time in target range (70-180 mg/dL) was %.1f%%, indicating %s glycemic control.",
		tir["target_range"], assessment["control_quality"])
	if below := events["readings_below_70"]; below > 0 {
		text += fmt.Sprintf(" Detected %d readings below 70 mg/dL.", below)
	}
	text += fmt.Sprintf(" Glycemic variability was %s (CV %.1f%%).", assessment["variability"], summary.CV)
	text += fmt.Sprintf(" Estimated HbA1c is %.1f%%.", hba1c)
	return text
}

// recommendations are rule-based strings triggered by assessment tiers.
func (p *GlucoseProcessor) recommendations(assessment map[string]string) []string {
	recs := []string{}
	switch assessment["control_quality"] {
	case "poor":
		recs = append(recs, "Glycemic control is poor; review the management plan with a clinician.")
	case "fair":
		recs = append(recs, "Consider reviewing carbohydrate intake and medication timing to increase time in range.")
	}
	if assessment["variability"] == "high" {
		recs = append(recs, "High glycemic variability detected; consistent meal timing and composition may help.")
	}
	switch assessment["hypoglycemia_risk"] {
	case "high":
		recs = append(recs, "Severe hypoglycemia detected; keep rapid-acting glucose available and discuss with a clinician urgently.")
	case "elevated":
		recs = append(recs, "Elevated hypoglycemia risk; keep rapid-acting glucose available.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Glucose management is on track; continue current routine.")
	}
	return recs
}

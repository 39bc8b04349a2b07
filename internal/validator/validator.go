// Package validator scores an extracted batch of records for schema
// conformance, completeness, physiological plausibility and temporal
// ordering, and decides accept vs quarantine.
package validator

import (
	"fmt"

	"etl-narrative-engine/internal/clinical"
	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// Quality score weights and the fixed penalty for out-of-order timestamps.
const (
	weightSchema        = 0.3
	weightCompleteness  = 0.3
	weightPhysiological = 0.2
	weightTemporal      = 0.2
	temporalPenalty     = 0.7
)

// Validator is pure (no I/O) and deterministic given the same input.
type Validator struct {
	threshold float64
	logger    *zap.Logger
}

// NewValidator creates a validator with the configured quality threshold.
func NewValidator(threshold float64, logger *zap.Logger) *Validator {
	return &Validator{
		threshold: threshold,
		logger:    logger,
	}
}

// Validate scores one batch. The quality score is a weighted sum:
// 0.3*schema + 0.3*completeness + 0.2*physiological + 0.2*temporal.
// IsValid requires score >= threshold (boundary inclusive) and zero
// schema errors.
func (v *Validator) Validate(records []models.RawRecord, recordType string, fileSizeBytes int64) *models.ValidationResult {
	result := &models.ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
		Metadata: map[string]float64{},
	}

	rt, err := models.ParseRecordType(recordType)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	if len(records) == 0 {
		result.Errors = append(result.Errors, "batch contains no records")
	}

	missingTimestamps := 0
	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			missingTimestamps++
		}
	}
	if missingTimestamps > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("%d records missing timestamps", missingTimestamps))
	}

	schemaScore := 1.0
	if len(result.Errors) > 0 {
		schemaScore = 0.0
	}

	completeness := v.completenessScore(records, rt, result)
	physiological := v.physiologicalScore(records, rt, result)
	temporal := v.temporalScore(records, result)

	result.Metadata["schema"] = schemaScore
	result.Metadata["completeness"] = completeness
	result.Metadata["physiological"] = physiological
	result.Metadata["temporal"] = temporal

	result.QualityScore = weightSchema*schemaScore +
		weightCompleteness*completeness +
		weightPhysiological*physiological +
		weightTemporal*temporal

	result.IsValid = result.QualityScore >= v.threshold && len(result.Errors) == 0
	return result
}

// completenessScore is the fraction of records carrying every required
// field for the record type.
func (v *Validator) completenessScore(records []models.RawRecord, rt models.RecordType, result *models.ValidationResult) float64 {
	if len(records) == 0 {
		return 0.0
	}
	required := clinical.RequiredFields(rt)
	if len(required) == 0 {
		return 1.0
	}

	complete := 0
	for _, rec := range records {
		ok := true
		for _, field := range required {
			if !rec.Has(field) {
				ok = false
				break
			}
		}
		if ok {
			complete++
		}
	}
	score := float64(complete) / float64(len(records))
	if complete < len(records) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d of %d records missing required fields %v", len(records)-complete, len(records), required))
	}
	return score
}

// physiologicalScore is the fraction of observed field values falling
// inside the static clinical range table for the record type. Fields with
// no declared range are skipped.
func (v *Validator) physiologicalScore(records []models.RawRecord, rt models.RecordType, result *models.ValidationResult) float64 {
	observed := 0
	plausible := 0
	for _, rec := range records {
		for field := range rec.Fields {
			band, ok := clinical.FieldRange(rt, field)
			if !ok {
				continue
			}
			value, ok := rec.Float(field)
			if !ok {
				continue
			}
			observed++
			if band.Contains(value) {
				plausible++
			}
		}
	}
	if observed == 0 {
		return 0.0
	}
	score := float64(plausible) / float64(observed)
	if plausible < observed {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d of %d observed values outside physiological range", observed-plausible, observed))
	}
	return score
}

// temporalScore is 1.0 when timestamps are non-decreasing, else the fixed
// penalty.
func (v *Validator) temporalScore(records []models.RawRecord, result *models.ValidationResult) float64 {
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.Before(records[i-1].Timestamp) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("timestamps out of order at record %d", i))
			return temporalPenalty
		}
	}
	return 1.0
}

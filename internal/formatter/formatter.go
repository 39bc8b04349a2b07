// Package formatter turns a processor's structured insight into a
// training-data record and builds the object-store output locations.
package formatter

import (
	"fmt"
	"path"
	"time"

	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// trainingCategories maps record type to the training-data category used
// for output partitioning.
var trainingCategories = map[models.RecordType]string{
	models.RecordTypeBloodGlucose: "metabolic_diabetes",
	models.RecordTypeHeartRate:    "cardiovascular_fitness",
	models.RecordTypeSleepSession: "sleep_quality",
	models.RecordTypeStepCount:    "physical_activity",
	models.RecordTypeCalories:     "energy_expenditure",
	models.RecordTypeHRV:          "autonomic_health",
}

// instructions are the per-type prompts paired with each narrative.
var instructions = map[models.RecordType]string{
	models.RecordTypeBloodGlucose: "Analyze the following blood glucose data and provide a clinical summary with recommendations.",
	models.RecordTypeHeartRate:    "Analyze the following heart rate data and assess cardiovascular fitness.",
	models.RecordTypeSleepSession: "Analyze the following sleep data and assess sleep quality and consistency.",
	models.RecordTypeStepCount:    "Analyze the following step count data and assess daily physical activity.",
	models.RecordTypeCalories:     "Analyze the following active energy data and assess exercise expenditure.",
	models.RecordTypeHRV:          "Analyze the following heart rate variability data and assess autonomic recovery.",
}

// Tiers that mark a batch as needing more involved clinical reasoning.
var complexTiers = map[string]bool{
	"poor": true, "high": true, "insufficient": true, "low": true,
	"erratic": true, "sporadic": true, "sedentary": true, "irregular": true,
}

var intermediateTiers = map[string]bool{
	"fair": true, "moderate": true, "short": true, "variable": true,
	"elevated": true, "declining": true, "light": true,
}

// The assessment key that anchors complexity, per domain.
var primaryAssessment = map[models.RecordType]string{
	models.RecordTypeBloodGlucose: "control_quality",
	models.RecordTypeHeartRate:    "fitness_level",
	models.RecordTypeSleepSession: "sleep_duration",
	models.RecordTypeStepCount:    "activity_level",
	models.RecordTypeCalories:     "expenditure_level",
	models.RecordTypeHRV:          "autonomic_balance",
}

// Formatter is deterministic given its inputs.
type Formatter struct {
	logger *zap.Logger
}

func NewFormatter(logger *zap.Logger) *Formatter {
	return &Formatter{logger: logger}
}

// Format builds the persisted training record with full lineage metadata.
func (f *Formatter) Format(result *models.ProcessingResult, msg *models.InboundMessage, processingID string, validation *models.ValidationResult) *models.TrainingRecord {
	rt := models.RecordType(msg.RecordType)
	category := TrainingCategory(rt)

	metadata := map[string]interface{}{
		"source_key":        msg.Key,
		"record_type":       msg.RecordType,
		"user_id":           msg.UserID,
		"correlation_id":    msg.CorrelationID,
		"processing_id":     processingID,
		"idempotency_key":   msg.IdempotencyKey,
		"quality_score":     result.QualityScore,
		"training_category": category,
		"complexity_level":  f.complexity(rt, result.Insight),
		"processed_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if validation != nil && len(validation.Warnings) > 0 {
		metadata["validation_warnings"] = validation.Warnings
	}
	if result.Insight != nil {
		metadata["clinical_insights"] = result.Insight.AsMap()
	}

	return &models.TrainingRecord{
		Instruction: instructions[rt],
		Output:      result.Narrative,
		Metadata:    metadata,
	}
}

// complexity derives the record's complexity tag from the primary clinical
// assessment tier.
func (f *Formatter) complexity(rt models.RecordType, insight *models.ClinicalInsight) string {
	if insight == nil {
		return "routine"
	}
	tier := insight.Assessment[primaryAssessment[rt]]
	switch {
	case complexTiers[tier]:
		return "complex"
	case intermediateTiers[tier]:
		return "intermediate"
	default:
		return "routine"
	}
}

// TrainingCategory maps a record type to its output category.
func TrainingCategory(rt models.RecordType) string {
	if cat, ok := trainingCategories[rt]; ok {
		return cat
	}
	return "general_health"
}

// TrainingKey is the monthly, category-partitioned append location:
// training/{category}/{yyyy}/{mm}/training_data_{yyyy}_{mm}.jsonl
func TrainingKey(category string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("training/%s/%04d/%02d/training_data_%04d_%02d.jsonl",
		category, at.Year(), at.Month(), at.Year(), at.Month())
}

// QuarantineKey mirrors the original object name under the quarantine
// prefix: quarantine/{record_type}/{yyyy}/{mm}/{dd}/{original-name}
func QuarantineKey(recordType, originalKey string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("quarantine/%s/%04d/%02d/%02d/%s",
		recordType, at.Year(), at.Month(), at.Day(), path.Base(originalKey))
}

// QuarantineMetadataKey is the sibling metadata object for a quarantined
// upload.
func QuarantineMetadataKey(quarantineKey string) string {
	return quarantineKey + ".metadata.json"
}

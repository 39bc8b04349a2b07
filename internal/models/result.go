package models

import "time"

// ValidationResult is the validator's verdict on one extracted batch.
// Errors are schema violations (fatal), warnings are quality concerns
// (non-fatal). IsValid is true only when the quality score meets the
// configured threshold and the error list is empty.
type ValidationResult struct {
	IsValid      bool               `json:"is_valid"`
	Errors       []string           `json:"errors"`
	Warnings     []string           `json:"warnings"`
	QualityScore float64            `json:"quality_score"`
	Metadata     map[string]float64 `json:"metadata"`
}

// ClinicalInsight is a processor's structured output. Statistics are kept
// under a per-domain section name (e.g. "glucose_statistics") so lineage
// metadata preserves which processor produced them. Never mutated after
// creation.
type ClinicalInsight struct {
	Domain           string                 `json:"domain"`
	Statistics       map[string]interface{} `json:"statistics"`
	TemporalPatterns map[string]interface{} `json:"temporal_patterns,omitempty"`
	Assessment       map[string]string      `json:"assessment"`
	Recommendations  []string               `json:"recommendations"`
}

// AsMap flattens the insight for embedding in training-record metadata,
// keyed per domain: {<domain>: statistics, clinical_assessment: ...}.
func (ci *ClinicalInsight) AsMap() map[string]interface{} {
	if ci == nil {
		return nil
	}
	out := map[string]interface{}{
		ci.Domain:             ci.Statistics,
		"clinical_assessment": ci.Assessment,
		"recommendations":     ci.Recommendations,
	}
	if ci.TemporalPatterns != nil {
		out["temporal_patterns"] = ci.TemporalPatterns
	}
	return out
}

// ProcessingResult is the sole output contract of a clinical processor.
type ProcessingResult struct {
	Success          bool             `json:"success"`
	Narrative        string           `json:"narrative,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ProcessingTime   time.Duration    `json:"processing_time"`
	RecordsProcessed int              `json:"records_processed"`
	QualityScore     float64          `json:"quality_score"`
	Insight          *ClinicalInsight `json:"insight,omitempty"`
}

// TrainingRecord is the persisted artifact: one instruction/output pair
// plus full lineage metadata. Written append-only to monthly category
// files; never updated once written.
type TrainingRecord struct {
	Instruction string                 `json:"instruction"`
	Output      string                 `json:"output"`
	Metadata    map[string]interface{} `json:"metadata"`
}

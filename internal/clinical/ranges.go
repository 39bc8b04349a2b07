// Package clinical holds the static physiological reference tables consumed
// by the validator and the clinical processors. Pure data, no behavior.
package clinical

import "etl-narrative-engine/internal/models"

// Range is an inclusive physiological plausibility band for one field.
type Range struct {
	Min float64
	Max float64
}

// Glucose band cutoffs in mg/dL (consensus time-in-range bands).
const (
	GlucoseSevereHypoLimit = 54.0
	GlucoseHypoLimit       = 70.0
	GlucoseTargetUpper     = 180.0
	GlucoseSevereHyper     = 250.0
)

// ADAG linear estimation of HbA1c from mean glucose.
const (
	ADAGOffset  = 46.7
	ADAGDivisor = 28.7
)

// Heart-rate zone model. Age is not carried in uploads, so zones use a
// fixed ceiling rather than 220-age.
const (
	HRMaxCeiling         = 190.0
	HRZoneModerateLower  = 0.50
	HRZoneVigorousLower  = 0.70
	HRZonePeakLower      = 0.85
	TachycardiaThreshold = 100.0
	BradycardiaThreshold = 50.0
)

// Sleep duration guideline (adult), minutes.
const (
	SleepOptimalLowerMin = 420.0
	SleepOptimalUpperMin = 540.0
	SleepShortMin        = 360.0
)

// Daily step guideline.
const (
	StepGoalDaily   = 10000.0
	StepActiveDaily = 7500.0
)

// HRV RMSSD autonomic-balance cutoffs, milliseconds.
const (
	RMSSDBalancedLower = 40.0
	RMSSDModerateLower = 25.0
)

var requiredFields = map[models.RecordType][]string{
	models.RecordTypeBloodGlucose: {"glucose_mgdl"},
	models.RecordTypeHeartRate:    {"bpm"},
	models.RecordTypeSleepSession: {"duration_minutes"},
	models.RecordTypeStepCount:    {"count"},
	models.RecordTypeCalories:     {"energy_kcal"},
	models.RecordTypeHRV:          {"rmssd_ms"},
}

var fieldRanges = map[models.RecordType]map[string]Range{
	models.RecordTypeBloodGlucose: {
		"glucose_mgdl": {Min: 20, Max: 600},
	},
	models.RecordTypeHeartRate: {
		"bpm": {Min: 20, Max: 250},
	},
	models.RecordTypeSleepSession: {
		"duration_minutes":      {Min: 0, Max: 1440},
		"time_in_bed_minutes":   {Min: 0, Max: 1440},
		"onset_latency_minutes": {Min: 0, Max: 480},
		"deep_minutes":          {Min: 0, Max: 1440},
		"rem_minutes":           {Min: 0, Max: 1440},
		"light_minutes":         {Min: 0, Max: 1440},
		"awake_minutes":         {Min: 0, Max: 1440},
	},
	models.RecordTypeStepCount: {
		"count": {Min: 0, Max: 200000},
	},
	models.RecordTypeCalories: {
		"energy_kcal":      {Min: 0, Max: 10000},
		"duration_minutes": {Min: 0, Max: 1440},
	},
	models.RecordTypeHRV: {
		"rmssd_ms": {Min: 1, Max: 300},
	},
}

// RequiredFields returns the fields a record of the given type must carry.
func RequiredFields(rt models.RecordType) []string {
	return requiredFields[rt]
}

// FieldRange returns the plausibility band for a field of the given type.
func FieldRange(rt models.RecordType, field string) (Range, bool) {
	ranges, ok := fieldRanges[rt]
	if !ok {
		return Range{}, false
	}
	r, ok := ranges[field]
	return r, ok
}

// Contains reports whether v falls inside the band (inclusive).
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

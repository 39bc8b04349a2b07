package validator_test

import (
	"testing"
	"time"

	"etl-narrative-engine/internal/models"
	"etl-narrative-engine/internal/validator"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func glucoseRecord(ts time.Time, value float64) models.RawRecord {
	return models.RawRecord{
		Timestamp: ts,
		Fields:    map[string]interface{}{"glucose_mgdl": value},
	}
}

func glucoseBatch(n int) []models.RawRecord {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	records := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, glucoseRecord(base.Add(time.Duration(i)*15*time.Minute), 110))
	}
	return records
}

func TestValidate_CleanBatchScoresFull(t *testing.T) {
	v := validator.NewValidator(0.7, zap.NewNop())

	result := v.Validate(glucoseBatch(10), "BloodGlucoseRecord", 1024)

	require.True(t, result.IsValid)
	require.Empty(t, result.Errors)
	require.InDelta(t, 1.0, result.QualityScore, 1e-9)
	require.Equal(t, 1.0, result.Metadata["schema"])
	require.Equal(t, 1.0, result.Metadata["completeness"])
	require.Equal(t, 1.0, result.Metadata["physiological"])
	require.Equal(t, 1.0, result.Metadata["temporal"])
}

func TestValidate_ThresholdBoundaryInclusive(t *testing.T) {
	// Out-of-order timestamps score exactly 0.3 + 0.3 + 0.2 + 0.2*0.7 = 0.94.
	records := glucoseBatch(5)
	records[2], records[3] = records[3], records[2]

	atThreshold := validator.NewValidator(0.94, zap.NewNop()).Validate(records, "BloodGlucoseRecord", 512)
	require.InDelta(t, 0.94, atThreshold.QualityScore, 1e-9)
	require.True(t, atThreshold.IsValid, "score exactly at threshold must pass")

	belowThreshold := validator.NewValidator(0.9401, zap.NewNop()).Validate(records, "BloodGlucoseRecord", 512)
	require.False(t, belowThreshold.IsValid, "score below threshold must fail")
}

func TestValidate_TemporalPenalty(t *testing.T) {
	records := glucoseBatch(4)
	records[1], records[2] = records[2], records[1]

	result := validator.NewValidator(0.7, zap.NewNop()).Validate(records, "BloodGlucoseRecord", 512)

	require.Equal(t, 0.7, result.Metadata["temporal"])
	require.NotEmpty(t, result.Warnings)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	records := []models.RawRecord{
		{Timestamp: base, Fields: map[string]interface{}{"unit": "mg/dL"}},
		{Timestamp: base.Add(time.Minute), Fields: map[string]interface{}{"unit": "mg/dL"}},
	}

	result := validator.NewValidator(0.7, zap.NewNop()).Validate(records, "BloodGlucoseRecord", 512)

	// schema 0.3 + completeness 0 + physiological 0 + temporal 0.2 = 0.5
	require.False(t, result.IsValid)
	require.Empty(t, result.Errors, "missing fields are a quality concern, not a schema error")
	require.InDelta(t, 0.5, result.QualityScore, 1e-9)
	require.NotEmpty(t, result.Warnings)
}

func TestValidate_ImplausibleValuesLowerScore(t *testing.T) {
	records := glucoseBatch(4)
	records[0].Fields["glucose_mgdl"] = 5000.0
	records[1].Fields["glucose_mgdl"] = -10.0

	result := validator.NewValidator(0.7, zap.NewNop()).Validate(records, "BloodGlucoseRecord", 512)

	require.Equal(t, 0.5, result.Metadata["physiological"])
	require.InDelta(t, 0.9, result.QualityScore, 1e-9)
}

func TestValidate_EmptyBatchIsSchemaError(t *testing.T) {
	result := validator.NewValidator(0.7, zap.NewNop()).Validate(nil, "BloodGlucoseRecord", 0)

	require.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
}

func TestValidate_UnknownRecordTypeIsSchemaError(t *testing.T) {
	result := validator.NewValidator(0.7, zap.NewNop()).Validate(glucoseBatch(3), "MysteryRecord", 128)

	require.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
	require.Equal(t, 0.0, result.Metadata["schema"])
}

func TestValidate_Deterministic(t *testing.T) {
	records := glucoseBatch(6)
	v := validator.NewValidator(0.7, zap.NewNop())

	first := v.Validate(records, "BloodGlucoseRecord", 256)
	second := v.Validate(records, "BloodGlucoseRecord", 256)

	require.Equal(t, first, second)
}

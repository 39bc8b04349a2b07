package processor_test

import (
	"context"
	"testing"
	"time"

	"etl-narrative-engine/internal/models"
	"etl-narrative-engine/internal/processor"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func glucoseRecords(values ...float64) []models.RawRecord {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	records := make([]models.RawRecord, 0, len(values))
	for i, v := range values {
		records = append(records, models.RawRecord{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Fields:    map[string]interface{}{"glucose_mgdl": v},
		})
	}
	return records
}

func testMessage(rt models.RecordType) *models.InboundMessage {
	return &models.InboundMessage{
		MessageID:  "msg-1",
		UserID:     "user-1",
		RecordType: rt.String(),
	}
}

func passingValidation() *models.ValidationResult {
	return &models.ValidationResult{IsValid: true, QualityScore: 0.95}
}

func TestGlucose_TimeInRangeBuckets(t *testing.T) {
	p := processor.NewGlucoseProcessor(zap.NewNop())
	require.NoError(t, p.Initialize())

	result, err := p.Process(context.Background(),
		glucoseRecords(50, 65, 80, 120, 150, 200, 260),
		testMessage(models.RecordTypeBloodGlucose), passingValidation())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 7, result.RecordsProcessed)

	tir, ok := result.Insight.Statistics["time_in_range"].(map[string]float64)
	require.True(t, ok)
	require.InDelta(t, 42.9, tir["target_range"], 0.5)
	require.InDelta(t, 14.3, tir["severe_hypoglycemia"], 0.5)
	require.InDelta(t, 14.3, tir["severe_hyperglycemia"], 0.5)
	require.InDelta(t, 14.3, tir["hypoglycemia"], 0.5)
	require.InDelta(t, 14.3, tir["hyperglycemia"], 0.5)
}

func TestGlucose_EstimatedHbA1c(t *testing.T) {
	p := processor.NewGlucoseProcessor(zap.NewNop())
	require.NoError(t, p.Initialize())

	// Mean of 154 mg/dL maps to an estimated HbA1c of 7.0 via ADAG.
	result, err := p.Process(context.Background(),
		glucoseRecords(154, 154, 154, 154),
		testMessage(models.RecordTypeBloodGlucose), passingValidation())
	require.NoError(t, err)

	hba1c, ok := result.Insight.Statistics["estimated_hba1c"].(float64)
	require.True(t, ok)
	require.InDelta(t, 7.0, hba1c, 0.1)
	require.Contains(t, result.Narrative, "7.0%")
}

func TestGlucose_EventRuns(t *testing.T) {
	p := processor.NewGlucoseProcessor(zap.NewNop())
	require.NoError(t, p.Initialize())

	// Three consecutive readings below 70 form one hypo event; two do not.
	result, err := p.Process(context.Background(),
		glucoseRecords(60, 62, 65, 110, 60, 65, 110, 110),
		testMessage(models.RecordTypeBloodGlucose), passingValidation())
	require.NoError(t, err)

	events, ok := result.Insight.Statistics["events"].(map[string]int)
	require.True(t, ok)
	require.Equal(t, 1, events["hypo_events"])
	require.Equal(t, 0, events["severe_hypo_events"])
	require.Equal(t, 5, events["readings_below_70"])
}

func TestGlucose_AssessmentTiers(t *testing.T) {
	p := processor.NewGlucoseProcessor(zap.NewNop())
	require.NoError(t, p.Initialize())

	steady, err := p.Process(context.Background(),
		glucoseRecords(100, 105, 110, 115, 110, 105, 100, 110),
		testMessage(models.RecordTypeBloodGlucose), passingValidation())
	require.NoError(t, err)
	require.Equal(t, "excellent", steady.Insight.Assessment["control_quality"])
	require.Equal(t, "low", steady.Insight.Assessment["variability"])
	require.Equal(t, "low", steady.Insight.Assessment["hypoglycemia_risk"])
	require.Contains(t, steady.Narrative, "excellent glycemic control")

	poor, err := p.Process(context.Background(),
		glucoseRecords(240, 260, 280, 220, 300, 250, 270, 255),
		testMessage(models.RecordTypeBloodGlucose), passingValidation())
	require.NoError(t, err)
	require.Equal(t, "poor", poor.Insight.Assessment["control_quality"])
	require.NotEmpty(t, poor.Insight.Recommendations)
}

func TestGlucose_NoValuesIsError(t *testing.T) {
	p := processor.NewGlucoseProcessor(zap.NewNop())
	require.NoError(t, p.Initialize())

	_, err := p.Process(context.Background(),
		[]models.RawRecord{{Timestamp: time.Now(), Fields: map[string]interface{}{"unit": "mg/dL"}}},
		testMessage(models.RecordTypeBloodGlucose), passingValidation())
	require.Error(t, err)
}

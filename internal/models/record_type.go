package models

import "fmt"

// RecordType identifies one of the supported health record types.
// Tags follow the Health Connect record naming used by the upload service.
type RecordType string

const (
	RecordTypeBloodGlucose RecordType = "BloodGlucoseRecord"
	RecordTypeHeartRate    RecordType = "HeartRateRecord"
	RecordTypeSleepSession RecordType = "SleepSessionRecord"
	RecordTypeStepCount    RecordType = "StepsRecord"
	RecordTypeCalories     RecordType = "ActiveCaloriesBurnedRecord"
	RecordTypeHRV          RecordType = "HeartRateVariabilityRmssdRecord"
)

// AllRecordTypes lists every record type the pipeline can process.
var AllRecordTypes = []RecordType{
	RecordTypeBloodGlucose,
	RecordTypeHeartRate,
	RecordTypeSleepSession,
	RecordTypeStepCount,
	RecordTypeCalories,
	RecordTypeHRV,
}

// ParseRecordType validates a record-type tag at the boundary.
// Unknown tags are rejected here rather than deep in the pipeline.
func ParseRecordType(tag string) (RecordType, error) {
	rt := RecordType(tag)
	for _, known := range AllRecordTypes {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown record type: %q", tag)
}

func (rt RecordType) String() string {
	return string(rt)
}

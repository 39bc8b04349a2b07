// Package processor holds the clinical processor contract, the registry
// keyed by record type, and the six domain processors.
package processor

import (
	"context"
	"errors"
	"fmt"

	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// ErrUnknownRecordType is returned by the registry for unregistered tags.
var ErrUnknownRecordType = errors.New("no processor registered for record type")

// ClinicalProcessor is the contract shared by all six processor variants.
// Initialize loads the processor's clinical reference tables; Process
// turns a validated batch into a ProcessingResult with clinical insights.
type ClinicalProcessor interface {
	Initialize() error
	Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error)
}

// Registry is a pure lookup from record type to processor instance.
type Registry struct {
	processors map[models.RecordType]ClinicalProcessor
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		processors: make(map[models.RecordType]ClinicalProcessor),
		logger:     logger,
	}
}

// Register initializes a processor and binds it to a record type.
func (r *Registry) Register(rt models.RecordType, p ClinicalProcessor) error {
	if err := p.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize processor for %s: %w", rt, err)
	}
	r.processors[rt] = p
	r.logger.Info("Registered clinical processor", zap.String("record_type", rt.String()))
	return nil
}

// Get resolves a processor by record type.
func (r *Registry) Get(rt models.RecordType) (ClinicalProcessor, error) {
	p, ok := r.processors[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecordType, rt)
	}
	return p, nil
}

// NewDefaultRegistry builds a registry with all six processors registered.
func NewDefaultRegistry(logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry(logger)
	bindings := []struct {
		rt models.RecordType
		p  ClinicalProcessor
	}{
		{models.RecordTypeBloodGlucose, NewGlucoseProcessor(logger)},
		{models.RecordTypeHeartRate, NewHeartRateProcessor(logger)},
		{models.RecordTypeSleepSession, NewSleepProcessor(logger)},
		{models.RecordTypeStepCount, NewStepsProcessor(logger)},
		{models.RecordTypeCalories, NewCaloriesProcessor(logger)},
		{models.RecordTypeHRV, NewHRVProcessor(logger)},
	}
	for _, b := range bindings {
		if err := registry.Register(b.rt, b.p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// collectField gathers one numeric field across a batch, skipping records
// that do not carry it.
func collectField(records []models.RawRecord, field string) []float64 {
	values := make([]float64, 0, len(records))
	for i := range records {
		if v, ok := records[i].Float(field); ok {
			values = append(values, v)
		}
	}
	return values
}

// Package consumer drives the end-to-end state machine per message:
// ledger claim, download, extract, validate, process, format, persist.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"etl-narrative-engine/internal/config"
	"etl-narrative-engine/internal/errclass"
	"etl-narrative-engine/internal/extractor"
	"etl-narrative-engine/internal/formatter"
	"etl-narrative-engine/internal/ledger"
	"etl-narrative-engine/internal/metrics"
	"etl-narrative-engine/internal/models"
	"etl-narrative-engine/internal/processor"
	"etl-narrative-engine/internal/storage"
	"etl-narrative-engine/internal/validator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispositionKind is the message's final state from the broker's point of
// view. Exactly three outcomes exist: acknowledged (including quarantined),
// requeued with delay, or dead-lettered.
type DispositionKind int

const (
	Acknowledged DispositionKind = iota
	Requeued
	DeadLettered
)

func (k DispositionKind) String() string {
	switch k {
	case Acknowledged:
		return "acknowledged"
	case Requeued:
		return "requeued"
	default:
		return "dead_lettered"
	}
}

// Disposition is the orchestrator's verdict on one message.
type Disposition struct {
	Kind     DispositionKind
	Delay    time.Duration
	Category errclass.Category
	Reason   string
}

// Orchestrator composes the pipeline components. It holds no lock across
// any I/O call; the only shared mutable state is the ledger, guarded by
// the backing store's own atomicity.
type Orchestrator struct {
	cfg       *config.Config
	store     storage.ObjectStore
	ledger    ledger.Ledger
	validator *validator.Validator
	registry  *processor.Registry
	formatter *formatter.Formatter
	policy    *errclass.RetryPolicy
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewOrchestrator(
	cfg *config.Config,
	store storage.ObjectStore,
	led ledger.Ledger,
	val *validator.Validator,
	registry *processor.Registry,
	fmtr *formatter.Formatter,
	policy *errclass.RetryPolicy,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		ledger:    led,
		validator: val,
		registry:  registry,
		formatter: fmtr,
		policy:    policy,
		metrics:   m,
		logger:    logger,
	}
}

// Handle runs the per-message state machine and returns the disposition.
// All failures pass through the classifier; none escape unclassified.
func (o *Orchestrator) Handle(ctx context.Context, msg *models.InboundMessage) Disposition {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.MessageTimeout)
	defer cancel()

	disp := o.handle(ctx, msg)

	o.metrics.ObserveDisposition(disp.Kind.String())
	o.metrics.ObserveProcessing(msg.RecordType, time.Since(start))
	o.logger.Info("Message handled",
		zap.String("message_id", msg.MessageID),
		zap.String("correlation_id", msg.CorrelationID),
		zap.String("disposition", disp.Kind.String()),
		zap.String("category", string(disp.Category)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return disp
}

func (o *Orchestrator) handle(ctx context.Context, msg *models.InboundMessage) Disposition {
	// 1. received: consult the ledger before any side effect.
	claim, err := o.ledger.Begin(ctx, msg.IdempotencyKey)
	if err != nil {
		return o.failure(ctx, msg, errclass.New(errclass.SystemError,
			fmt.Errorf("ledger unavailable: %w", err)))
	}
	switch claim {
	case ledger.AlreadyCompleted:
		o.metrics.ObserveDedupHit()
		o.logger.Info("Duplicate message short-circuited",
			zap.String("message_id", msg.MessageID),
			zap.String("idempotency_key", msg.IdempotencyKey))
		return Disposition{Kind: Acknowledged}
	case ledger.InFlight:
		// Another worker owns the claim; back off rather than reprocess.
		return Disposition{
			Kind:   Requeued,
			Delay:  o.policy.Delay(errclass.ResourceError, 0),
			Reason: "idempotency key claimed by an active attempt",
		}
	}

	// 2. downloading.
	data, err := o.store.Get(ctx, msg.Bucket, msg.Key)
	if err != nil {
		return o.failure(ctx, msg, errclass.Classify(err))
	}

	// 3. extracting: decode failures are data problems, not system faults.
	records, extractWarnings, err := extractor.Extract(data, msg.RecordCount)
	if err != nil {
		return o.quarantine(ctx, msg, data, &models.ValidationResult{
			Errors:   []string{err.Error()},
			Warnings: []string{},
		}, errclass.SchemaError)
	}

	// 4. validating.
	validation := o.validator.Validate(records, msg.RecordType, msg.FileSizeBytes)
	validation.Warnings = append(extractWarnings, validation.Warnings...)
	if !validation.IsValid {
		category := errclass.DataQuality
		if len(validation.Errors) > 0 {
			category = errclass.SchemaError
		}
		return o.quarantine(ctx, msg, data, validation, category)
	}

	// 5. processing: unknown tags were rejected by validation, so a
	// registry miss here is a processor wiring fault.
	rt, _ := models.ParseRecordType(msg.RecordType)
	proc, err := o.registry.Get(rt)
	if err != nil {
		return o.failure(ctx, msg, errclass.New(errclass.ProcessingError, err))
	}
	result, err := o.safeProcess(ctx, proc, records, msg, validation)
	if err != nil {
		return o.failure(ctx, msg, errclass.Classify(err))
	}

	// 6. formatting.
	processingID := uuid.New().String()
	record := o.formatter.Format(result, msg, processingID, validation)

	// 7. persisting: the ledger is marked completed only after the
	// durable write, so a crash mid-pipeline reprocesses harmlessly.
	line, err := json.Marshal(record)
	if err != nil {
		return o.failure(ctx, msg, errclass.New(errclass.ProcessingError,
			fmt.Errorf("failed to marshal training record: %w", err)))
	}
	key := formatter.TrainingKey(formatter.TrainingCategory(rt), msg.UploadTimestamp)
	if err := storage.AppendLine(ctx, o.store, o.cfg.Storage.OutputBucket, key, line); err != nil {
		return o.failure(ctx, msg, errclass.Classify(err))
	}

	if err := o.ledger.Complete(ctx, msg.IdempotencyKey); err != nil {
		return o.failure(ctx, msg, errclass.New(errclass.SystemError,
			fmt.Errorf("failed to complete ledger entry: %w", err)))
	}

	o.logger.Info("Training record persisted",
		zap.String("message_id", msg.MessageID),
		zap.String("processing_id", processingID),
		zap.String("key", key),
		zap.Int("records_processed", result.RecordsProcessed),
		zap.Float64("quality_score", validation.QualityScore),
	)
	return Disposition{Kind: Acknowledged}
}

// safeProcess invokes the processor with panic recovery: a bug inside a
// processor must classify as PROCESSING_ERROR, never crash the worker.
func (o *Orchestrator) safeProcess(
	ctx context.Context,
	proc processor.ClinicalProcessor,
	records []models.RawRecord,
	msg *models.InboundMessage,
	validation *models.ValidationResult,
) (result *models.ProcessingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errclass.Newf(errclass.ProcessingError, "processor panic: %v", r)
		}
	}()
	result, err = proc.Process(ctx, records, msg, validation)
	if err != nil {
		return nil, errclass.New(errclass.ProcessingError, err)
	}
	return result, nil
}

// quarantine writes the quarantine artifact and its metadata sibling, then
// completes the ledger entry: quarantine is a terminal success, not a
// failure.
func (o *Orchestrator) quarantine(
	ctx context.Context,
	msg *models.InboundMessage,
	raw []byte,
	validation *models.ValidationResult,
	category errclass.Category,
) Disposition {
	reason := quarantineReason(validation)

	if o.cfg.Pipeline.QuarantineEnabled {
		key := formatter.QuarantineKey(msg.RecordType, msg.Key, msg.UploadTimestamp)
		if err := o.store.Put(ctx, o.cfg.Storage.OutputBucket, key, raw); err != nil {
			return o.failure(ctx, msg, errclass.Classify(err))
		}

		metadata, err := json.Marshal(map[string]interface{}{
			"quarantine_reason":   reason,
			"quality_score":       validation.QualityScore,
			"validation_warnings": validation.Warnings,
		})
		if err != nil {
			return o.failure(ctx, msg, errclass.New(errclass.ProcessingError, err))
		}
		if err := o.store.Put(ctx, o.cfg.Storage.OutputBucket, formatter.QuarantineMetadataKey(key), metadata); err != nil {
			return o.failure(ctx, msg, errclass.Classify(err))
		}

		o.logger.Warn("Upload quarantined",
			zap.String("message_id", msg.MessageID),
			zap.String("key", key),
			zap.String("reason", reason),
			zap.Float64("quality_score", validation.QualityScore),
		)
	}

	if err := o.ledger.Complete(ctx, msg.IdempotencyKey); err != nil {
		return o.failure(ctx, msg, errclass.New(errclass.SystemError,
			fmt.Errorf("failed to complete ledger entry: %w", err)))
	}

	o.metrics.ObserveQuarantine(string(category))
	return Disposition{Kind: Acknowledged, Category: category, Reason: reason}
}

// failure resolves a classified error to requeue or dead-letter and
// releases the ledger claim so a later attempt can re-claim the key.
func (o *Orchestrator) failure(ctx context.Context, msg *models.InboundMessage, classified *errclass.Classified) Disposition {
	if err := o.ledger.Fail(ctx, msg.IdempotencyKey, classified.Error()); err != nil {
		o.logger.Error("Failed to release ledger claim",
			zap.String("idempotency_key", msg.IdempotencyKey),
			zap.Error(err))
	}

	if o.policy.ShouldRetry(classified.Category, msg.RetryCount) {
		delay := o.policy.Delay(classified.Category, msg.RetryCount)
		o.logger.Warn("Message requeued",
			zap.String("message_id", msg.MessageID),
			zap.String("category", string(classified.Category)),
			zap.Int("retry_count", msg.RetryCount),
			zap.Duration("delay", delay),
			zap.Error(classified.Err),
		)
		return Disposition{
			Kind:     Requeued,
			Delay:    delay,
			Category: classified.Category,
			Reason:   classified.Error(),
		}
	}

	o.logger.Error("Message dead-lettered",
		zap.String("message_id", msg.MessageID),
		zap.String("category", string(classified.Category)),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(classified.Err),
	)
	return Disposition{
		Kind:     DeadLettered,
		Category: classified.Category,
		Reason:   classified.Error(),
	}
}

func quarantineReason(validation *models.ValidationResult) string {
	if len(validation.Errors) > 0 {
		return strings.Join(validation.Errors, "; ")
	}
	return fmt.Sprintf("quality score %.2f below threshold", validation.QualityScore)
}

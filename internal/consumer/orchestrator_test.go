package consumer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"etl-narrative-engine/internal/config"
	"etl-narrative-engine/internal/consumer"
	"etl-narrative-engine/internal/errclass"
	"etl-narrative-engine/internal/formatter"
	"etl-narrative-engine/internal/ledger"
	"etl-narrative-engine/internal/models"
	"etl-narrative-engine/internal/processor"
	"etl-narrative-engine/internal/storage"
	"etl-narrative-engine/internal/validator"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory ObjectStore. getErr, when set, fails every Get.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) path(bucket, key string) string { return bucket + "/" + key }

func (s *fakeStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[s.path(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return data, nil
}

func (s *fakeStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[s.path(bucket, key)] = data
	return nil
}

func (s *fakeStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for p := range s.objects {
		if strings.HasPrefix(p, bucket+"/"+prefix) {
			keys = append(keys, strings.TrimPrefix(p, bucket+"/"))
		}
	}
	return keys, nil
}

// fakeLedger is an in-memory Ledger with the same claim semantics as the
// real backends.
type fakeLedger struct {
	mu     sync.Mutex
	states map[string]ledger.State
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{states: make(map[string]ledger.State)}
}

func (l *fakeLedger) Begin(ctx context.Context, key string) (ledger.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.states[key] {
	case ledger.StateCompleted:
		return ledger.AlreadyCompleted, nil
	case ledger.StatePending:
		return ledger.InFlight, nil
	}
	l.states[key] = ledger.StatePending
	return ledger.Claimed, nil
}

func (l *fakeLedger) Complete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[key] = ledger.StateCompleted
	return nil
}

func (l *fakeLedger) Fail(ctx context.Context, key string, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[key] = ledger.StateFailed
	return nil
}

func (l *fakeLedger) Get(ctx context.Context, key string) (*ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.states[key]
	if !ok {
		return nil, nil
	}
	return &ledger.Entry{Key: key, State: state}, nil
}

func (l *fakeLedger) Close() error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Storage.OutputBucket = "health-narratives"
	cfg.Pipeline.QualityThreshold = 0.7
	cfg.Pipeline.MaxRetries = 3
	cfg.Pipeline.MessageTimeout = 5 * time.Second
	cfg.Pipeline.QuarantineEnabled = true
	return cfg
}

func newTestOrchestrator(t *testing.T, store storage.ObjectStore, led ledger.Ledger) *consumer.Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	registry, err := processor.NewDefaultRegistry(logger)
	require.NoError(t, err)
	return consumer.NewOrchestrator(
		testConfig(),
		store,
		led,
		validator.NewValidator(0.7, logger),
		registry,
		formatter.NewFormatter(logger),
		errclass.NewRetryPolicy(3),
		nil,
		logger,
	)
}

func glucoseUpload() []byte {
	var buf bytes.Buffer
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i, v := range []float64{50, 65, 80, 120, 150, 200, 260} {
		line, _ := json.Marshal(map[string]interface{}{
			"timestamp":    base.Add(time.Duration(i) * 5 * time.Minute).Format(time.RFC3339),
			"glucose_mgdl": v,
		})
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func glucoseMessage(data []byte) *models.InboundMessage {
	return &models.InboundMessage{
		MessageID:       "msg-1",
		CorrelationID:   "corr-1",
		UserID:          "user-1",
		Bucket:          "health-uploads",
		Key:             "raw/BloodGlucoseRecord/2025/06/01/user-1_1748764800_abc.jsonl",
		RecordType:      "BloodGlucoseRecord",
		UploadTimestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		FileSizeBytes:   int64(len(data)),
		RecordCount:     7,
		IdempotencyKey:  "idem-1",
	}
}

func trainingLines(t *testing.T, store *fakeStore) [][]byte {
	t.Helper()
	key := formatter.TrainingKey("metabolic_diabetes", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	data, err := store.Get(context.Background(), "health-narratives", key)
	if err != nil {
		return nil
	}
	var lines [][]byte
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestHandle_GlucoseEndToEnd(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()
	data := glucoseUpload()
	msg := glucoseMessage(data)
	require.NoError(t, store.Put(context.Background(), msg.Bucket, msg.Key, data))

	orch := newTestOrchestrator(t, store, led)
	disp := orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.Acknowledged, disp.Kind)

	lines := trainingLines(t, store)
	require.Len(t, lines, 1)

	var record models.TrainingRecord
	require.NoError(t, json.Unmarshal(lines[0], &record))
	require.Contains(t, record.Output, "6.2%")
	require.Equal(t, "BloodGlucoseRecord", record.Metadata["record_type"])
	require.Equal(t, "user-1", record.Metadata["user_id"])
	require.NotEmpty(t, record.Metadata["processing_id"])

	insights, ok := record.Metadata["clinical_insights"].(map[string]interface{})
	require.True(t, ok)
	stats, ok := insights["glucose_statistics"].(map[string]interface{})
	require.True(t, ok)
	tir, ok := stats["time_in_range"].(map[string]interface{})
	require.True(t, ok)
	require.InDelta(t, 42.9, tir["target_range"], 0.05)

	entry, err := led.Get(context.Background(), msg.IdempotencyKey)
	require.NoError(t, err)
	require.Equal(t, ledger.StateCompleted, entry.State)
}

func TestHandle_DuplicateShortCircuits(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()
	data := glucoseUpload()
	msg := glucoseMessage(data)
	require.NoError(t, store.Put(context.Background(), msg.Bucket, msg.Key, data))

	orch := newTestOrchestrator(t, store, led)
	require.Equal(t, consumer.Acknowledged, orch.Handle(context.Background(), msg).Kind)
	require.Equal(t, consumer.Acknowledged, orch.Handle(context.Background(), msg).Kind)

	// The second delivery produced no second record.
	require.Len(t, trainingLines(t, store), 1)
}

func TestHandle_InFlightKeyRequeues(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()
	data := glucoseUpload()
	msg := glucoseMessage(data)
	require.NoError(t, store.Put(context.Background(), msg.Bucket, msg.Key, data))

	_, err := led.Begin(context.Background(), msg.IdempotencyKey)
	require.NoError(t, err)

	orch := newTestOrchestrator(t, store, led)
	disp := orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.Requeued, disp.Kind)
	require.Greater(t, disp.Delay, time.Duration(0))
	require.Empty(t, trainingLines(t, store))
}

func TestHandle_LowQualityQuarantined(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()

	// Records carry timestamps but no glucose values: completeness collapses
	// below the threshold without any schema error.
	var buf bytes.Buffer
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		line, _ := json.Marshal(map[string]interface{}{
			"timestamp": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"note":      "manual entry",
		})
		buf.Write(line)
		buf.WriteByte('\n')
	}
	data := buf.Bytes()
	msg := glucoseMessage(data)
	msg.RecordCount = 5
	msg.FileSizeBytes = int64(len(data))
	require.NoError(t, store.Put(context.Background(), msg.Bucket, msg.Key, data))

	orch := newTestOrchestrator(t, store, led)
	disp := orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.Acknowledged, disp.Kind)
	require.Equal(t, errclass.DataQuality, disp.Category)
	require.NotEmpty(t, disp.Reason)

	qKey := formatter.QuarantineKey(msg.RecordType, msg.Key, msg.UploadTimestamp)
	raw, err := store.Get(context.Background(), "health-narratives", qKey)
	require.NoError(t, err)
	require.Equal(t, data, raw)

	metaRaw, err := store.Get(context.Background(), "health-narratives", formatter.QuarantineMetadataKey(qKey))
	require.NoError(t, err)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(metaRaw, &meta))
	require.NotEmpty(t, meta["quarantine_reason"])

	// Quarantine is terminal: no training output, ledger completed.
	require.Empty(t, trainingLines(t, store))
	entry, err := led.Get(context.Background(), msg.IdempotencyKey)
	require.NoError(t, err)
	require.Equal(t, ledger.StateCompleted, entry.State)
}

func TestHandle_UndecodableUploadQuarantinedAsSchema(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()
	data := []byte("not json at all")
	msg := glucoseMessage(data)
	msg.FileSizeBytes = int64(len(data))
	require.NoError(t, store.Put(context.Background(), msg.Bucket, msg.Key, data))

	orch := newTestOrchestrator(t, store, led)
	disp := orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.Acknowledged, disp.Kind)
	require.Equal(t, errclass.SchemaError, disp.Category)
}

func TestHandle_MissingObjectDeadLetters(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()
	msg := glucoseMessage(nil)

	orch := newTestOrchestrator(t, store, led)
	disp := orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.DeadLettered, disp.Kind)
	require.Equal(t, errclass.AuthError, disp.Category)

	// The claim is released so a re-upload with the same key can proceed.
	entry, err := led.Get(context.Background(), msg.IdempotencyKey)
	require.NoError(t, err)
	require.Equal(t, ledger.StateFailed, entry.State)
}

func TestHandle_TransientFailureRequeuesThenExhausts(t *testing.T) {
	store := newFakeStore()
	led := newFakeLedger()
	store.getErr = errclass.Newf(errclass.NetworkError, "connection refused")
	msg := glucoseMessage(nil)

	orch := newTestOrchestrator(t, store, led)

	disp := orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.Requeued, disp.Kind)
	require.Equal(t, errclass.NetworkError, disp.Category)
	require.Equal(t, 5*time.Second, disp.Delay)

	// Escalated delay on a later attempt.
	msg.RetryCount = 2
	disp = orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.Requeued, disp.Kind)
	require.Equal(t, 20*time.Second, disp.Delay)

	// Retries exhausted: dead-letter.
	msg.RetryCount = 3
	disp = orch.Handle(context.Background(), msg)
	require.Equal(t, consumer.DeadLettered, disp.Kind)
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// InboundMessage identifies one unit of work pulled from the broker.
// Immutable once parsed; owned by the orchestrator for the duration of
// one processing attempt.
type InboundMessage struct {
	MessageID       string    `json:"message_id"`
	CorrelationID   string    `json:"correlation_id"`
	UserID          string    `json:"user_id"`
	Bucket          string    `json:"bucket"`
	Key             string    `json:"key"`
	RecordType      string    `json:"record_type"`
	UploadTimestamp time.Time `json:"upload_timestamp_utc"`
	ContentHash     string    `json:"content_hash"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	RecordCount     int       `json:"record_count"`
	IdempotencyKey  string    `json:"idempotency_key"`
	Priority        int       `json:"priority"`
	RetryCount      int       `json:"retry_count"`
}

// ParseInboundMessage decodes a broker payload into an InboundMessage.
// Stream entries carry the message as JSON under the "data" field.
func ParseInboundMessage(values map[string]interface{}) (*InboundMessage, error) {
	raw, ok := values["data"]
	if !ok {
		return nil, fmt.Errorf("missing data field in stream entry")
	}
	data, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("data field is not a string")
	}

	var msg InboundMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inbound message: %w", err)
	}

	if msg.MessageID == "" {
		return nil, fmt.Errorf("inbound message missing message_id")
	}
	if msg.Bucket == "" || msg.Key == "" {
		return nil, fmt.Errorf("inbound message %s missing storage location", msg.MessageID)
	}

	// Idempotency key may be absent on hand-crafted messages; derive it so
	// the ledger always has a stable key to work with.
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = DeriveIdempotencyKey(msg.UserID, msg.ContentHash, msg.UploadTimestamp)
	}

	// retry_count can arrive as a bare stream field when a message is
	// re-queued; the field on the entry wins over the embedded JSON.
	if rcRaw, ok := values["retry_count"]; ok {
		if rcStr, ok := rcRaw.(string); ok {
			if rc, err := strconv.Atoi(rcStr); err == nil {
				msg.RetryCount = rc
			}
		}
	}

	return &msg, nil
}

// DeriveIdempotencyKey computes the deterministic dedup key for one logical
// upload: user + content hash + upload hour window. Two uploads of the same
// bytes by the same user within one hour collapse to one key.
func DeriveIdempotencyKey(userID, contentHash string, uploaded time.Time) string {
	window := uploaded.UTC().Format("2006010215")
	sum := sha256.Sum256([]byte(userID + "|" + contentHash + "|" + window))
	return hex.EncodeToString(sum[:])[:32]
}

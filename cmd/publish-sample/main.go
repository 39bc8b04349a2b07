// publish-sample uploads a synthetic blood-glucose batch to the object
// store and publishes the matching inbound message, for local smoke
// testing of the worker.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"etl-narrative-engine/internal/broker"
	"etl-narrative-engine/internal/config"
	"etl-narrative-engine/internal/models"
	"etl-narrative-engine/internal/storage"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	s3Client, err := storage.NewS3Client(ctx, cfg.Storage.Endpoint)
	if err != nil {
		log.Fatalf("Failed to create s3 client: %v", err)
	}
	store := storage.NewS3Store(s3Client)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	userID := "sample-user"
	now := time.Now().UTC()

	// Seven readings spanning the full time-in-range spectrum.
	readings := []float64{50, 65, 80, 120, 150, 200, 260}
	var lines []string
	for i, v := range readings {
		ts := now.Add(time.Duration(i-len(readings)) * 15 * time.Minute)
		lines = append(lines, fmt.Sprintf(`{"timestamp":"%s","glucose_mgdl":%g}`, ts.Format(time.RFC3339), v))
	}
	payload := []byte(strings.Join(lines, "\n") + "\n")

	hash := sha256.Sum256(payload)
	contentHash := hex.EncodeToString(hash[:])
	key := fmt.Sprintf("raw/BloodGlucoseRecord/%04d/%02d/%02d/%s_%d_%s.jsonl",
		now.Year(), now.Month(), now.Day(), userID, now.Unix(), contentHash[:12])

	if err := store.Put(ctx, cfg.Storage.OutputBucket, key, payload); err != nil {
		log.Fatalf("Failed to upload sample batch: %v", err)
	}
	log.Printf("Uploaded sample batch to s3://%s/%s", cfg.Storage.OutputBucket, key)

	msg := models.InboundMessage{
		MessageID:       uuid.New().String(),
		CorrelationID:   uuid.New().String(),
		UserID:          userID,
		Bucket:          cfg.Storage.OutputBucket,
		Key:             key,
		RecordType:      models.RecordTypeBloodGlucose.String(),
		UploadTimestamp: now,
		ContentHash:     contentHash,
		FileSizeBytes:   int64(len(payload)),
		RecordCount:     len(readings),
		IdempotencyKey:  models.DeriveIdempotencyKey(userID, contentHash, now),
		Priority:        0,
	}

	id, err := broker.Publish(ctx, redisClient, cfg.Broker.InboundStream, msg)
	if err != nil {
		log.Fatalf("Failed to publish message: %v", err)
	}
	log.Printf("Published message %s (stream id %s, idempotency key %s)", msg.MessageID, id, msg.IdempotencyKey)
}

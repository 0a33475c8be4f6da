package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/faceclient"
	"rollcall/internal/ledger"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker consumes accepted scans and runs the (simulated) face verification
// pass over them. Attendance itself is already in the ledger by the time a
// message arrives here; verification only audits, it never flips a status.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:scans")
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
			log.Println("worker will retry verification when scans arrive")
		} else {
			log.Println("face service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for scans...")
	for msg := range messages {
		if msg.Type != "scan" {
			continue
		}

		var rec ledger.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Printf("discarding malformed scan message: %v", err)
			continue
		}

		result, err := face.Verify(ctx, rec.StudentID)
		if err != nil {
			log.Printf("verification failed for %s in %s: %v", rec.StudentID, rec.LectureID, err)
			continue
		}
		if !result.Verified {
			log.Printf("FLAG: %s in %s did not verify (confidence %.2f)", rec.StudentID, rec.LectureID, result.Confidence)
			continue
		}
		log.Printf("verified %s in %s (status %s, confidence %.2f)", rec.StudentID, rec.LectureID, rec.Status, result.Confidence)
	}

	log.Println("worker stopped")
}

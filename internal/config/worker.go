package config

import (
	"os"
	"strconv"
	"time"
)

// WorkerConfig bounds how much distribution work a single sweep may
// perform. Refunds and payouts iterate collections of unknown size,
// so each sweep processes at most a batch and relies on re-entry to
// finish the rest.
type WorkerConfig struct {
	Identity        string
	SweepSchedule   string
	RefundBatchSize int
	PayoutBatchSize int
	DrainInterval   time.Duration
	ReferenceTTL    time.Duration
}

func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Identity:        getEnv("WORKER_IDENTITY", "distribution-worker"),
		SweepSchedule:   getEnv("WORKER_SWEEP_SCHEDULE", "0 */15 * * * *"),
		RefundBatchSize: getEnvAsInt("WORKER_REFUND_BATCH_SIZE", 50),
		PayoutBatchSize: getEnvAsInt("WORKER_PAYOUT_BATCH_SIZE", 50),
		DrainInterval:   getEnvAsDuration("WORKER_DRAIN_INTERVAL", 5*time.Second),
		ReferenceTTL:    getEnvAsDuration("PAYMENT_REFERENCE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

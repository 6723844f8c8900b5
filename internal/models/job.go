package models

import (
	"encoding/json"
	"time"
)

// QueuedJob is a priority submission waiting in the gateway admission queue.
// The prompt payload is an opaque job graph passed through byte-identical.
type QueuedJob struct {
	GatewayJobID string          `json:"gateway_job_id" badgerhold:"key"`
	Prompt       json.RawMessage `json:"prompt"`
	ClientID     string          `json:"client_id"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Before reports whether j precedes other in admission order:
// higher priority first, then earlier enqueue time, then job id for a
// total, deterministic order.
func (j *QueuedJob) Before(other *QueuedJob) bool {
	if j.Priority != other.Priority {
		return j.Priority > other.Priority
	}
	if !j.CreatedAt.Equal(other.CreatedAt) {
		return j.CreatedAt.Before(other.CreatedAt)
	}
	return j.GatewayJobID < other.GatewayJobID
}

// JobMapping links a priority submission to the worker execution it became.
type JobMapping struct {
	GatewayJobID string `json:"gateway_job_id" badgerhold:"key"`
	PromptID     string `json:"prompt_id"`
	WorkerID     string `json:"worker_id"`
}

package models

import (
	"encoding/json"
)

// WorkerQueue is a worker's /queue response: the raw running and pending
// entry lists. Entries are heterogeneous arrays carrying the prompt id at
// no fixed position, so they are kept as raw JSON and inspected
// defensively.
type WorkerQueue struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// Counts returns (running, pending) entry counts.
func (q *WorkerQueue) Counts() (int, int) {
	return len(q.Running), len(q.Pending)
}

// ContainsPromptID reports whether any running or pending entry refers to
// the given prompt id.
func (q *WorkerQueue) ContainsPromptID(promptID string) bool {
	if promptID == "" {
		return false
	}
	for _, entry := range q.Running {
		if entryMatchesPromptID(entry, promptID) {
			return true
		}
	}
	for _, entry := range q.Pending {
		if entryMatchesPromptID(entry, promptID) {
			return true
		}
	}
	return false
}

// entryMatchesPromptID checks one queue entry against a prompt id. Entries
// are heterogeneous arrays and workers disagree about which position holds
// the prompt id, so every scalar string element is compared; anything
// unparseable never matches.
func entryMatchesPromptID(entry json.RawMessage, promptID string) bool {
	var fields []json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return false
	}
	for _, field := range fields {
		var value string
		if err := json.Unmarshal(field, &value); err == nil && value == promptID {
			return true
		}
	}
	return false
}

// GatewayQueueEntry is one row of the gateway's aggregated queue view.
type GatewayQueueEntry struct {
	GatewayJobID string     `json:"gateway_job_id,omitempty"`
	PromptID     string     `json:"prompt_id,omitempty"`
	WorkerID     string     `json:"worker_id,omitempty"`
	Priority     int        `json:"priority"`
	Status       TaskStatus `json:"status"`
	Source       string     `json:"source"`
}

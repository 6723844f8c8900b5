package models

import (
	"encoding/json"
)

// Worker push-channel message types. Workers emit these over their
// websocket as execution advances through a prompt.
const (
	EventExecutionStart  = "execution_start"
	EventExecuting       = "executing"
	EventProgress        = "progress"
	EventExecuted        = "executed"
	EventExecutionCached = "execution_cached"
	EventExecutionError  = "execution_error"
	EventStatus          = "status"
)

// WorkerEvent is the envelope of one push-channel message.
type WorkerEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExecutionStartData accompanies execution_start, executed and
// execution_cached messages.
type ExecutionStartData struct {
	PromptID string `json:"prompt_id"`
}

// ExecutingData accompanies executing messages. Node is nil when the
// worker finished the whole prompt.
type ExecutingData struct {
	PromptID string  `json:"prompt_id"`
	Node     *string `json:"node"`
}

// ProgressData accompanies progress messages.
type ProgressData struct {
	PromptID string `json:"prompt_id"`
	Value    int    `json:"value"`
	Max      int    `json:"max"`
}

// ExecutionErrorData accompanies execution_error messages.
type ExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id,omitempty"`
	NodeType         string `json:"node_type,omitempty"`
	ExceptionMessage string `json:"exception_message,omitempty"`
	ExceptionType    string `json:"exception_type,omitempty"`
}

// StatusData accompanies status messages and carries the worker's
// current queue depth.
type StatusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

package common

import (
	"github.com/google/uuid"
)

// NewWorkerID generates a unique worker ID
func NewWorkerID() string {
	return uuid.New().String()
}

// NewGatewayJobID generates a unique gateway job ID for priority submissions
func NewGatewayJobID() string {
	return uuid.New().String()
}

// NewClientID generates a client ID when the caller did not supply one
func NewClientID() string {
	return uuid.New().String()
}

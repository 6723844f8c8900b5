package models

import (
	"time"
)

// Credentials is a basic-auth username/password pair used when the gateway
// talks to a worker behind a reverse proxy.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// WorkerInfo is the registry's canonical record for one compute worker.
// Load fields (QueueRunning, QueuePending, Healthy, CachedAt) are a cache
// refreshed by probes and are not persisted.
type WorkerInfo struct {
	WorkerID     string `json:"worker_id" badgerhold:"key"`
	URL          string `json:"url"`
	Name         string `json:"name,omitempty"`
	Weight       int    `json:"weight"`
	Enabled      bool   `json:"enabled"`
	AuthUsername string `json:"auth_username,omitempty"`
	AuthPassword string `json:"auth_password,omitempty"`

	// Load cache, updated by the selector and the health prober
	QueueRunning int       `json:"queue_running"`
	QueuePending int       `json:"queue_pending"`
	Healthy      bool      `json:"healthy"`
	CachedAt     time.Time `json:"-"`
}

// Credentials returns the per-worker auth pair, or nil when not configured.
// The registry layers the process-global fallback on top of this.
func (w *WorkerInfo) Credentials() *Credentials {
	if w.AuthUsername != "" && w.AuthPassword != "" {
		return &Credentials{Username: w.AuthUsername, Password: w.AuthPassword}
	}
	return nil
}

// LoadScore is the queue load used by the least-loaded selection strategy.
func (w *WorkerInfo) LoadScore() int {
	return w.QueueRunning + w.QueuePending
}

// CacheValid reports whether the load cache is fresh enough to serve reads.
func (w *WorkerInfo) CacheValid(now time.Time, ttl time.Duration) bool {
	return now.Sub(w.CachedAt) <= ttl
}

// Clone returns a copy safe to hand out of the registry lock.
func (w *WorkerInfo) Clone() *WorkerInfo {
	c := *w
	return &c
}

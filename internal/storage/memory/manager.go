// Package memory provides an in-process storage backend. It is the default
// when no persistent backend is configured and the silent fallback when the
// cache backend is unavailable. All state is lost on restart.
package memory

import (
	"github.com/ternarybob/gantry/internal/interfaces"
)

// Manager aggregates the in-memory stores.
type Manager struct {
	workers  *WorkerStore
	mappings *MappingStore
	pending  *PendingQueueStore
	history  *HistoryStore
	settings *SettingsStore
}

// NewManager creates an empty in-memory storage manager.
func NewManager() *Manager {
	return &Manager{
		workers:  NewWorkerStore(),
		mappings: NewMappingStore(),
		pending:  NewPendingQueueStore(),
		history:  NewHistoryStore(),
		settings: NewSettingsStore(),
	}
}

func (m *Manager) Workers() interfaces.WorkerStore            { return m.workers }
func (m *Manager) Mappings() interfaces.MappingStore          { return m.mappings }
func (m *Manager) PendingQueue() interfaces.PendingQueueStore { return m.pending }
func (m *Manager) History() interfaces.HistoryStore           { return m.history }
func (m *Manager) Settings() interfaces.SettingsStore         { return m.settings }
func (m *Manager) Backend() string                            { return "memory" }
func (m *Manager) Close() error                               { return nil }

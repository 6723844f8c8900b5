package badger

import (
	"sync/atomic"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/storage/memory"
)

// Manager aggregates the Badger-backed stores. The first store error flips
// the manager into degraded mode: all subsequent calls are served by an
// embedded in-process manager so callers never see cache failures.
type Manager struct {
	store    *badgerhold.Store
	fallback *memory.Manager
	degraded atomic.Bool

	workers  *WorkerStore
	mappings *MappingStore
	pending  *PendingQueueStore
	history  *HistoryStore
	settings *SettingsStore
}

// NewManager opens the cache store and wires the per-entity stores.
func NewManager(cfg common.CacheConfig) (*Manager, error) {
	store, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewManagerWithStore(store), nil
}

// NewManagerWithStore wraps an already-open store. Used by tests.
func NewManagerWithStore(store *badgerhold.Store) *Manager {
	m := &Manager{
		store:    store,
		fallback: memory.NewManager(),
	}
	m.workers = &WorkerStore{m: m}
	m.mappings = &MappingStore{m: m}
	m.pending = &PendingQueueStore{m: m}
	m.history = &HistoryStore{m: m}
	m.settings = &SettingsStore{m: m}
	return m
}

// degrade records a cache failure and switches to the in-process fallback.
func (m *Manager) degrade(operation string, err error) {
	if m.degraded.CompareAndSwap(false, true) {
		common.GetLogger().Warn().Err(err).
			Str("operation", operation).
			Msg("Cache backend failed, falling back to in-process storage")
	}
}

// isDegraded reports whether calls should be served by the fallback.
func (m *Manager) isDegraded() bool {
	return m.degraded.Load()
}

func (m *Manager) Workers() interfaces.WorkerStore            { return m.workers }
func (m *Manager) Mappings() interfaces.MappingStore          { return m.mappings }
func (m *Manager) PendingQueue() interfaces.PendingQueueStore { return m.pending }
func (m *Manager) History() interfaces.HistoryStore           { return m.history }
func (m *Manager) Settings() interfaces.SettingsStore         { return m.settings }

func (m *Manager) Backend() string {
	if m.isDegraded() {
		return "cache-degraded"
	}
	return "cache"
}

// GC reclaims value-log space when the cache is healthy.
func (m *Manager) GC() {
	if !m.isDegraded() {
		RunValueLogGC(m.store)
	}
}

func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

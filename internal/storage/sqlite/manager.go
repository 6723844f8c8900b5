package sqlite

import (
	"database/sql"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
)

// Manager aggregates the SQLite-backed stores over one database handle.
type Manager struct {
	db       *sql.DB
	workers  *WorkerStore
	mappings *MappingStore
	pending  *PendingQueueStore
	history  *HistoryStore
	settings *SettingsStore
}

// NewManager opens the database and wires the per-entity stores.
func NewManager(cfg common.SQLiteConfig) (*Manager, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDB(db), nil
}

// NewManagerWithDB wraps an already-open handle. Used by tests.
func NewManagerWithDB(db *sql.DB) *Manager {
	return &Manager{
		db:       db,
		workers:  &WorkerStore{db: db},
		mappings: &MappingStore{db: db},
		pending:  &PendingQueueStore{db: db},
		history:  &HistoryStore{db: db},
		settings: &SettingsStore{db: db},
	}
}

func (m *Manager) Workers() interfaces.WorkerStore            { return m.workers }
func (m *Manager) Mappings() interfaces.MappingStore          { return m.mappings }
func (m *Manager) PendingQueue() interfaces.PendingQueueStore { return m.pending }
func (m *Manager) History() interfaces.HistoryStore           { return m.history }
func (m *Manager) Settings() interfaces.SettingsStore         { return m.settings }
func (m *Manager) Backend() string                            { return "sqlite" }
func (m *Manager) Close() error                               { return m.db.Close() }

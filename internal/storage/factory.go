// Package storage selects and constructs the persistence backend.
package storage

import (
	"fmt"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/storage/badger"
	"github.com/ternarybob/gantry/internal/storage/memory"
	"github.com/ternarybob/gantry/internal/storage/sqlite"
)

// NewManager builds the storage manager for the configured backend.
// Precedence: SQLite when a database path is set, otherwise the Badger
// cache when a cache path is set, otherwise in-process memory. A SQLite
// open failure is fatal; a cache open failure degrades to memory so the
// gateway still comes up.
func NewManager(config *common.Config) (interfaces.StorageManager, error) {
	log := common.GetLogger()

	if config.UseSQLite() {
		manager, err := sqlite.NewManager(config.Storage.SQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		log.Info().Str("path", config.Storage.SQLite.Path).Msg("Using SQLite storage backend")
		return manager, nil
	}

	if config.UseCache() {
		manager, err := badger.NewManager(config.Storage.Cache)
		if err != nil {
			log.Warn().Err(err).
				Str("path", config.Storage.Cache.Path).
				Msg("Cache backend unavailable, using in-process storage")
			return memory.NewManager(), nil
		}
		log.Info().Str("path", config.Storage.Cache.Path).Msg("Using cache storage backend")
		return manager, nil
	}

	log.Info().Msg("Using in-process storage backend")
	return memory.NewManager(), nil
}

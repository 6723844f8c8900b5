// Package badger provides the cache storage backend on an embedded Badger
// database. It is used when no relational backend is configured; any
// failure degrades the manager to in-process storage without surfacing
// errors to callers.
package badger

import (
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/common"
)

// Open opens a badgerhold store at the configured path.
func Open(cfg common.CacheConfig) (*badgerhold.Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = cfg.Path
	options.ValueDir = cfg.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}
	return store, nil
}

// RunValueLogGC reclaims space in the value log. Called periodically by the
// health prober when this backend is active.
func RunValueLogGC(store *badgerhold.Store) {
	db := store.Badger()
	// GC rewrites at most one value log file per call; loop until there is
	// nothing left to reclaim.
	for {
		if err := db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badgerdb.ErrNoRewrite) {
				common.GetLogger().Debug().Err(err).Msg("Value log GC stopped")
			}
			return
		}
	}
}

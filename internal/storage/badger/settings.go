package badger

import (
	"context"
	"errors"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gantry/internal/interfaces"
)

// settingRecord wraps a settings value for badgerhold storage.
type settingRecord struct {
	Key   string `badgerhold:"key"`
	Value string
}

// SettingsStore persists key/value settings in the cache store.
type SettingsStore struct {
	m *Manager
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if s.m.isDegraded() {
		return s.m.fallback.Settings().Set(ctx, key, value)
	}
	if err := s.m.store.Upsert(key, &settingRecord{Key: key, Value: value}); err != nil {
		s.m.degrade("set setting", err)
		return s.m.fallback.Settings().Set(ctx, key, value)
	}
	return nil
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	if s.m.isDegraded() {
		return s.m.fallback.Settings().Get(ctx, key)
	}
	var record settingRecord
	err := s.m.store.Get(key, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return "", interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("get setting", err)
		return s.m.fallback.Settings().Get(ctx, key)
	}
	return record.Value, nil
}

func (s *SettingsStore) Delete(ctx context.Context, key string) error {
	if s.m.isDegraded() {
		return s.m.fallback.Settings().Delete(ctx, key)
	}
	err := s.m.store.Delete(key, settingRecord{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		s.m.degrade("delete setting", err)
		return s.m.fallback.Settings().Delete(ctx, key)
	}
	return nil
}

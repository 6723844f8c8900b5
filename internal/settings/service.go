// Package settings manages gateway-level settings layered over the
// settings store, currently the global worker auth pair.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

const (
	keyWorkerAuthUsername = "worker_auth_username"
	keyWorkerAuthPassword = "worker_auth_password"
)

// Service reads and writes gateway settings. Values set at runtime are
// persisted; the config file supplies defaults when the store is empty.
type Service struct {
	store  interfaces.SettingsStore
	config *common.Config
}

func NewService(store interfaces.SettingsStore, config *common.Config) *Service {
	return &Service{store: store, config: config}
}

// GlobalWorkerAuth returns the fleet-wide worker credentials, or nil when
// none are configured. Store values take precedence over config.
func (s *Service) GlobalWorkerAuth(ctx context.Context) (*models.Credentials, error) {
	username, err := s.get(ctx, keyWorkerAuthUsername, s.config.Auth.WorkerUsername)
	if err != nil {
		return nil, err
	}
	password, err := s.get(ctx, keyWorkerAuthPassword, s.config.Auth.WorkerPassword)
	if err != nil {
		return nil, err
	}
	if username == "" || password == "" {
		return nil, nil
	}
	return &models.Credentials{Username: username, Password: password}, nil
}

// SetGlobalWorkerAuth stores the fleet-wide worker credentials. Empty
// values clear them.
func (s *Service) SetGlobalWorkerAuth(ctx context.Context, username, password string) error {
	if username == "" && password == "" {
		if err := s.delete(ctx, keyWorkerAuthUsername); err != nil {
			return err
		}
		return s.delete(ctx, keyWorkerAuthPassword)
	}
	if err := s.store.Set(ctx, keyWorkerAuthUsername, username); err != nil {
		return fmt.Errorf("failed to store worker auth username: %w", err)
	}
	if err := s.store.Set(ctx, keyWorkerAuthPassword, password); err != nil {
		return fmt.Errorf("failed to store worker auth password: %w", err)
	}
	return nil
}

// View is the redacted settings representation returned by the API. The
// password itself is never exposed, only whether one is set.
type View struct {
	WorkerAuthUsername string `json:"worker_auth_username"`
	HasWorkerPassword  bool   `json:"has_worker_password"`
}

// View returns the redacted settings for API responses.
func (s *Service) View(ctx context.Context) (*View, error) {
	creds, err := s.GlobalWorkerAuth(ctx)
	if err != nil {
		return nil, err
	}
	view := &View{}
	if creds != nil {
		view.WorkerAuthUsername = creds.Username
		view.HasWorkerPassword = creds.Password != ""
	}
	return view, nil
}

func (s *Service) get(ctx context.Context, key, fallback string) (string, error) {
	value, err := s.store.Get(ctx, key)
	if errors.Is(err, interfaces.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) delete(ctx context.Context, key string) error {
	err := s.store.Delete(ctx, key)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to clear setting %s: %w", key, err)
	}
	return nil
}

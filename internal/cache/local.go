package cache

import (
	"context"
	"fmt"

	"httpcat/internal/core"
	"httpcat/internal/pluginconfig"
)

// ConfigStore keeps cats under reuploaded_cats in the plugin config file.
// Every Put saves the whole file.
type ConfigStore struct {
	cfg *pluginconfig.Config
}

// NewConfigStore wraps a loaded plugin config.
func NewConfigStore(cfg *pluginconfig.Config) (*ConfigStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("plugin config is required")
	}
	return &ConfigStore{cfg: cfg}, nil
}

// Get looks the status up in reuploaded_cats.
func (s *ConfigStore) Get(_ context.Context, status core.StatusCode) (*core.MediaRef, error) {
	ref, ok := s.cfg.Cat(status)
	if !ok {
		return nil, core.ErrNotFound
	}
	return ref, nil
}

// Put records the cat and saves the config file.
func (s *ConfigStore) Put(_ context.Context, status core.StatusCode, ref *core.MediaRef) error {
	if err := s.cfg.PutCat(status, ref); err != nil {
		return fmt.Errorf("save plugin config: %w", err)
	}
	return nil
}

// List returns all cats in the config file.
func (s *ConfigStore) List(_ context.Context) ([]Entry, error) {
	stored := s.cfg.Cats()
	entries := make([]Entry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, Entry{Status: e.Status, Ref: e.Ref})
	}
	return entries, nil
}

// Close is a no-op; the file is written on every Put.
func (s *ConfigStore) Close() error {
	return nil
}

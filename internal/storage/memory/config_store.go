package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// ConfigStore holds the system document in memory.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg *crawler.SystemConfig
}

// NewConfigStore constructs an empty ConfigStore.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// GetSystemConfig returns the stored document or ErrNotFound.
func (s *ConfigStore) GetSystemConfig(_ context.Context) (crawler.SystemConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return crawler.SystemConfig{}, crawler.NotFoundf("config %s", crawler.SystemConfigKey)
	}
	return *s.cfg, nil
}

// EnsureSystemConfig seeds defaults when absent.
func (s *ConfigStore) EnsureSystemConfig(
	_ context.Context,
	defaults crawler.SystemConfig,
) (crawler.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		cfg := defaults
		s.cfg = &cfg
	}
	return *s.cfg, nil
}

// SaveSystemConfig replaces the document.
func (s *ConfigStore) SaveSystemConfig(_ context.Context, cfg crawler.SystemConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cfg
	s.cfg = &stored
	return nil
}

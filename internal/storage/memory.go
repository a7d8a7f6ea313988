package storage

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

// MemoryStore is the in-process fallback when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	configs []models.ModelConfiguration
	dataset []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendModelConfig(_ context.Context, cfg models.ModelConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Layers = append(models.LayerList(nil), cfg.Layers...)
	s.configs = append(s.configs, cfg)
	return nil
}

func (s *MemoryStore) ListModelConfigs(context.Context) ([]models.ModelConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ModelConfiguration(nil), s.configs...), nil
}

func (s *MemoryStore) SaveDataset(_ context.Context, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataset = append([]byte(nil), snapshot...)
	return nil
}

func (s *MemoryStore) LoadDataset(context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return nil, errors.Wrap(errs.ErrNotFound, "no dataset snapshot")
	}
	return append([]byte(nil), s.dataset...), nil
}

// Package overrides хранит базовую конфигурацию и периодически накладывает
// на неё переопределения из хранилища.
package overrides

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"var_gold/internal/models"
	"var_gold/internal/storage"
	"var_gold/pkg/logger"
)

type Store struct {
	repo storage.ConfigStore
	base models.RuntimeConfig

	mu            sync.Mutex
	current       models.RuntimeConfig
	lastRefreshMs int64
}

func New(repo storage.ConfigStore, base models.RuntimeConfig) *Store {
	return &Store{
		repo:    repo,
		base:    base.Clone(),
		current: base.Clone(),
	}
}

// Base: конфигурация без переопределений.
func (s *Store) Base() models.RuntimeConfig {
	return s.base.Clone()
}

// Current: последний слитый снимок без обращения к хранилищу.
func (s *Store) Current() models.RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Refresh перечитывает переопределения не чаще раза в config_refresh_sec.
// При ошибке чтения остаётся прежний снимок, повторная попытка будет на следующем вызове.
func (s *Store) Refresh(ctx context.Context, nowMs int64) (models.RuntimeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRefreshMs != 0 && nowMs-s.lastRefreshMs < int64(s.current.ConfigRefreshSec)*1000 {
		return s.current.Clone(), nil
	}

	raw, err := s.repo.LoadConfigOverrides(ctx)
	if err != nil {
		return s.current.Clone(), errors.Wrap(err, "load config overrides")
	}

	merged, dropped := Merge(s.base, raw)
	for _, key := range dropped {
		logger.Warn("config override %s=%q ignored", key, raw[key])
	}
	s.current = merged
	s.lastRefreshMs = nowMs
	return s.current.Clone(), nil
}

// SaveOverride пишет ключ и сбрасывает отметку обновления, чтобы следующий Refresh перечитал хранилище.
func (s *Store) SaveOverride(ctx context.Context, key, value string) error {
	if _, ok := rules[key]; !ok {
		return errors.Wrap(ErrUnknownKey, key)
	}
	if err := s.repo.SaveConfigOverride(ctx, key, value); err != nil {
		return errors.Wrap(err, "save config override")
	}

	s.mu.Lock()
	s.lastRefreshMs = 0
	s.mu.Unlock()
	return nil
}

// AllowedChatIDs: получатели уведомлений по текущему снимку.
func (s *Store) AllowedChatIDs() []int64 {
	return s.Current().AllowedChatIDs
}

package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/pkg/logger"
)

// SettingsService is the administrative capability owning Settings.
// Every read returns an independent snapshot.
type SettingsService struct {
	store  SettingsStore
	logger logger.Logger
	// serializes read-modify-write of sections
	mu sync.Mutex
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(store SettingsStore, logger logger.Logger) *SettingsService {
	return &SettingsService{store: store, logger: logger}
}

// Current returns a snapshot of the settings.
func (s *SettingsService) Current(ctx context.Context) (domain.Settings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	return settings, nil
}

// UpdateSection merges a partial JSON document onto one section and
// persists it. Other sections are left alone.
func (s *SettingsService) UpdateSection(ctx context.Context, name string, raw []byte) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.Current(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := settings.ApplySection(name, raw); err != nil {
		return domain.Settings{}, err
	}
	if err := s.store.SaveSettingsSection(ctx, name, settings); err != nil {
		return domain.Settings{}, fmt.Errorf("saving settings section %s: %w", name, err)
	}

	s.logger.Infow("Settings section updated", "section", name)
	return settings, nil
}

// GenerationAPIKey reads the generation credentials from settings.
func (s *SettingsService) GenerationAPIKey(ctx context.Context) (string, error) {
	settings, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	return settings.Credentials.GenerationAPIKey, nil
}

// WebhookSecret reads the payment webhook secret from settings.
func (s *SettingsService) WebhookSecret(ctx context.Context) (string, error) {
	settings, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	return settings.Credentials.PaymentWebhookSecret, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
)

// GetSettings loads every settings section. Sections that were never
// written are seeded with their defaults first, so a fresh database
// ends up with a complete settings blob after the first read.
func (s *DBStore) GetSettings(ctx context.Context) (domain.Settings, error) {
	defer observe("get_settings", time.Now())

	settings := domain.DefaultSettings()
	seen, err := s.loadSections(ctx, &settings)
	if err != nil {
		return domain.Settings{}, err
	}

	for _, name := range domain.SectionNames() {
		if seen[name] {
			continue
		}
		section, _ := settings.Section(name)
		if err := s.writeSection(ctx, qSeedSetting, name, section); err != nil {
			return domain.Settings{}, err
		}
		s.logger.Infow("Seeded default settings section", "section", name)
	}
	return settings, nil
}

func (s *DBStore) loadSections(ctx context.Context, into *domain.Settings) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, qSelectSettings)
	if err != nil {
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var (
			name string
			raw  []byte
		)
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scanning settings row: %w", err)
		}
		section, err := into.Section(name)
		if err != nil {
			s.logger.Warnw("Ignoring unknown settings section", "section", name)
			continue
		}
		if err := json.Unmarshal(raw, section); err != nil {
			return nil, fmt.Errorf("decoding settings section %s: %w", name, err)
		}
		seen[name] = true
	}
	return seen, rows.Err()
}

// SaveSettingsSection persists one section of s.
func (s *DBStore) SaveSettingsSection(ctx context.Context, name string, settings domain.Settings) error {
	defer observe("save_settings", time.Now())

	section, err := settings.Section(name)
	if err != nil {
		return err
	}
	return s.writeSection(ctx, qUpsertSetting, name, section)
}

func (s *DBStore) writeSection(ctx context.Context, query, name string, section any) error {
	raw, err := json.Marshal(section)
	if err != nil {
		return fmt.Errorf("encoding settings section %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, query, name, raw); err != nil {
		if isConnectionError(err) {
			return ErrConnectionFailed
		}
		return fmt.Errorf("writing settings section %s: %w", name, err)
	}
	return nil
}

package document

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	settingAPIKey    = "api_key"
	settingAutoParse = "auto_parse"
)

// Settings holds the runtime preferences kept in the database. Stored values
// win over the ones given at startup.
type Settings struct {
	db               DB
	fallbackKey      string
	autoParseDefault bool
}

// NewSettings creates Settings backed by db. fallbackKey comes from flags or the environment.
func NewSettings(db DB, fallbackKey string) *Settings {
	return &Settings{db: db, fallbackKey: strings.TrimSpace(fallbackKey)}
}

// APIKey returns the key to use for extraction, or "" when none is configured
func (s *Settings) APIKey(context.Context) (string, error) {
	stored, err := s.db.GetSetting(settingAPIKey)
	if err != nil {
		return "", fmt.Errorf("reading api key setting: %w", err)
	}
	if stored != "" {
		return stored, nil
	}
	return s.fallbackKey, nil
}

// SetAPIKey stores a key; an empty key clears the stored one
func (s *Settings) SetAPIKey(key string) error {
	if err := s.db.PutSetting(settingAPIKey, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("saving api key setting: %w", err)
	}
	return nil
}

// SetAutoParseDefault sets the preference used while none is stored
func (s *Settings) SetAutoParseDefault(enabled bool) {
	s.autoParseDefault = enabled
}

// AutoParse reports whether uploads are extracted automatically. Without a
// stored preference it falls back to the startup default, which is false
// unless set.
func (s *Settings) AutoParse() (bool, error) {
	value, err := s.db.GetSetting(settingAutoParse)
	if err != nil {
		return false, fmt.Errorf("reading auto parse setting: %w", err)
	}
	if value == "" {
		return s.autoParseDefault, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parsing auto parse setting: %w", err)
	}
	return enabled, nil
}

// SetAutoParse stores the auto-parse preference
func (s *Settings) SetAutoParse(enabled bool) error {
	if err := s.db.PutSetting(settingAutoParse, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("saving auto parse setting: %w", err)
	}
	return nil
}

// SettingsView is the API representation of Settings. The key itself is never returned.
type SettingsView struct {
	HasAPIKey bool `json:"has_api_key"`
	AutoParse bool `json:"auto_parse"`
}

// View reports the current settings
func (s *Settings) View(ctx context.Context) (*SettingsView, error) {
	key, err := s.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	autoParse, err := s.AutoParse()
	if err != nil {
		return nil, err
	}
	return &SettingsView{HasAPIKey: key != "", AutoParse: autoParse}, nil
}

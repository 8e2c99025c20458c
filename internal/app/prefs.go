// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"encoding/json"
	"errors"

	apperrors "github.com/jeranaias/chatrelay/internal/errors"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// =============================================================================
// PREFERENCES
// =============================================================================

const (
	// PrefsKey is the KV key of the preferences document.
	PrefsKey = "chatrelay.prefs"

	prefsVersion = 1

	// ThemeDark and ThemeLight are the supported themes.
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Prefs are the persisted UI preferences.
type Prefs struct {
	Version int    `json:"version"`
	Theme   string `json:"theme"`
	Sidebar bool   `json:"sidebar"`
}

// loadPrefs reads the stored preferences. Missing, unreadable or newer
// documents fall back to defaults.
func (s *State) loadPrefs(defaultTheme string) Prefs {
	p := Prefs{Version: prefsVersion, Theme: validTheme(defaultTheme), Sidebar: true}
	if s.kv == nil {
		return p
	}
	raw, err := s.kv.Get(PrefsKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("PREFS_LOAD_FAILED", "error", err)
		}
		return p
	}
	var stored Prefs
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn("PREFS_LOAD_FAILED", "error", err)
		return p
	}
	if stored.Version > prefsVersion {
		s.logger.Warn("PREFS_VERSION_UNSUPPORTED", "version", stored.Version)
		return p
	}
	if stored.Theme == ThemeDark || stored.Theme == ThemeLight {
		p.Theme = stored.Theme
	}
	p.Sidebar = stored.Sidebar
	return p
}

// persistPrefsLocked writes the preferences. The caller must hold s.mu.
func (s *State) persistPrefsLocked() error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(s.prefs)
	if err != nil {
		return apperrors.NewStorageError("encode", PrefsKey, err)
	}
	if err := s.kv.Put(PrefsKey, data); err != nil {
		s.logger.Error("PREFS_PERSIST_FAILED", "error", err)
		return apperrors.NewStorageError("persist", PrefsKey, err)
	}
	return nil
}

func validTheme(theme string) string {
	if theme == ThemeLight {
		return ThemeLight
	}
	return ThemeDark
}

// Theme returns the active theme name.
func (s *State) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Theme
}

// SetTheme switches to theme ("dark" or "light") and persists it.
// The in-memory value changes even when persisting fails.
func (s *State) SetTheme(theme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Theme = validTheme(theme)
	return s.persistPrefsLocked()
}

// ToggleTheme flips between dark and light and returns the new theme.
func (s *State) ToggleTheme() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs.Theme == ThemeDark {
		s.prefs.Theme = ThemeLight
	} else {
		s.prefs.Theme = ThemeDark
	}
	return s.prefs.Theme, s.persistPrefsLocked()
}

// SidebarVisible reports whether the session sidebar is shown.
func (s *State) SidebarVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.Sidebar
}

// ToggleSidebar flips the sidebar and returns the new visibility.
func (s *State) ToggleSidebar() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.Sidebar = !s.prefs.Sidebar
	return s.prefs.Sidebar, s.persistPrefsLocked()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "testing"

func TestNewTheme(t *testing.T) {
	tests := []struct {
		name      string
		wantName  string
		wantDark  bool
		wantStyle string
	}{
		{ThemeDark, ThemeDark, true, "dark"},
		{ThemeLight, ThemeLight, false, "light"},
		{"", ThemeDark, true, "dark"},
		{"solarized", ThemeDark, true, "dark"},
	}

	for _, tt := range tests {
		theme := NewTheme(tt.name)
		if theme.Name != tt.wantName {
			t.Errorf("NewTheme(%q).Name = %q, want %q", tt.name, theme.Name, tt.wantName)
		}
		if theme.IsDark != tt.wantDark {
			t.Errorf("NewTheme(%q).IsDark = %v, want %v", tt.name, theme.IsDark, tt.wantDark)
		}
		if got := theme.GlamourStyle(); got != tt.wantStyle {
			t.Errorf("NewTheme(%q).GlamourStyle() = %q, want %q", tt.name, got, tt.wantStyle)
		}
	}
}

func TestTheme_Toggled(t *testing.T) {
	theme := NewTheme(ThemeDark)
	theme.SetSize(120, 40)

	light := theme.Toggled()
	if light.Name != ThemeLight {
		t.Errorf("Toggled().Name = %q, want %q", light.Name, ThemeLight)
	}
	if light.Width != 120 || light.Height != 40 {
		t.Errorf("Toggled() size = %dx%d, want 120x40", light.Width, light.Height)
	}
	if light.Palette != LightPalette {
		t.Error("Toggled() should use the light palette")
	}
	if back := light.Toggled(); back.Name != ThemeDark {
		t.Errorf("Toggled().Toggled().Name = %q, want %q", back.Name, ThemeDark)
	}
	if theme.Name != ThemeDark {
		t.Error("Toggled() must not modify the receiver")
	}
}

func TestTheme_Layout(t *testing.T) {
	tests := []struct {
		width        int
		wantMode     LayoutMode
		wantSidebar  int
		wantModeName string
	}{
		{40, LayoutNarrow, 0, "narrow"},
		{59, LayoutNarrow, 0, "narrow"},
		{60, LayoutMedium, 24, "medium"},
		{99, LayoutMedium, 24, "medium"},
		{100, LayoutWide, 32, "wide"},
		{200, LayoutWide, 32, "wide"},
	}

	theme := NewTheme(ThemeDark)
	for _, tt := range tests {
		theme.SetSize(tt.width, 30)
		if got := theme.GetLayoutMode(); got != tt.wantMode {
			t.Errorf("width %d: GetLayoutMode() = %v, want %v", tt.width, got, tt.wantMode)
		}
		if got := theme.SidebarWidth(); got != tt.wantSidebar {
			t.Errorf("width %d: SidebarWidth() = %d, want %d", tt.width, got, tt.wantSidebar)
		}
		if got := theme.GetLayoutMode().String(); got != tt.wantModeName {
			t.Errorf("width %d: String() = %q, want %q", tt.width, got, tt.wantModeName)
		}
	}
}

func TestPaletteFor(t *testing.T) {
	if PaletteFor(ThemeLight) != LightPalette {
		t.Error("PaletteFor(light) should be LightPalette")
	}
	if PaletteFor(ThemeDark) != DarkPalette {
		t.Error("PaletteFor(dark) should be DarkPalette")
	}
	if PaletteFor("unknown") != DarkPalette {
		t.Error("PaletteFor(unknown) should fall back to DarkPalette")
	}
	if DarkPalette.TextPrimary == LightPalette.TextPrimary {
		t.Error("dark and light text colors should differ")
	}
}

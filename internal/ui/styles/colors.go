// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// Theme names, matching the values stored in preferences.
const (
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// Palette is the set of colors one theme is drawn with.
type Palette struct {
	// Accents
	Brand     lipgloss.Color
	User      lipgloss.Color
	Assistant lipgloss.Color
	System    lipgloss.Color

	// Semantic
	Error   lipgloss.Color
	Warning lipgloss.Color
	Success lipgloss.Color

	// Surfaces
	Surface    lipgloss.Color
	SurfaceDim lipgloss.Color
	Border     lipgloss.Color
	Selection  lipgloss.Color

	// Text
	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	TextMuted     lipgloss.Color
	TextInverse   lipgloss.Color
}

// =============================================================================
// PALETTES (Catppuccin Mocha / Latte)
// =============================================================================

// DarkPalette is used on dark terminal backgrounds.
var DarkPalette = Palette{
	Brand:     "#22D3EE",
	User:      "#89B4FA",
	Assistant: "#A78BFA",
	System:    "#FBBF24",

	Error:   "#FB7185",
	Warning: "#FBBF24",
	Success: "#34D399",

	Surface:    "#1E1E2E",
	SurfaceDim: "#181825",
	Border:     "#45475A",
	Selection:  "#313244",

	TextPrimary:   "#CDD6F4",
	TextSecondary: "#A6ADC8",
	TextMuted:     "#6C7086",
	TextInverse:   "#1E1E2E",
}

// LightPalette is used on light terminal backgrounds.
var LightPalette = Palette{
	Brand:     "#0891B2",
	User:      "#1E66F5",
	Assistant: "#7C3AED",
	System:    "#D97706",

	Error:   "#E11D48",
	Warning: "#D97706",
	Success: "#059669",

	Surface:    "#FFFFFF",
	SurfaceDim: "#F5F5F5",
	Border:     "#D4D4D4",
	Selection:  "#E5E5E5",

	TextPrimary:   "#1F2937",
	TextSecondary: "#6B7280",
	TextMuted:     "#9CA3AF",
	TextInverse:   "#FFFFFF",
}

// PaletteFor returns the palette for a theme name. Unknown names get the
// dark palette.
func PaletteFor(name string) Palette {
	if name == ThemeLight {
		return LightPalette
	}
	return DarkPalette
}

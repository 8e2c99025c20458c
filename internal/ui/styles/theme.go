// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds all the styled components for the application.
type Theme struct {
	Name    string
	IsDark  bool
	Palette Palette

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER AND STATUS
	// ==========================================================================

	Header       lipgloss.Style
	HeaderTitle  lipgloss.Style
	HeaderDetail lipgloss.Style
	StatusBar    lipgloss.Style
	StatusError  lipgloss.Style
	StatusHint   lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	Timestamp      lipgloss.Style
	MessageBody    lipgloss.Style
	Incomplete     lipgloss.Style
	Attachment     lipgloss.Style
	CommandOutput  lipgloss.Style

	// ==========================================================================
	// INPUT
	// ==========================================================================

	InputContainer   lipgloss.Style
	InputPrompt      lipgloss.Style
	InputPlaceholder lipgloss.Style
	Spinner          lipgloss.Style
	ReplyBanner      lipgloss.Style
	Completion       lipgloss.Style

	// ==========================================================================
	// SIDEBAR
	// ==========================================================================

	Sidebar         lipgloss.Style
	SidebarTitle    lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style
	SidebarMeta     lipgloss.Style
}

// DetectTheme returns ThemeDark or ThemeLight from the terminal background.
func DetectTheme() string {
	if termenv.HasDarkBackground() {
		return ThemeDark
	}
	return ThemeLight
}

// NewTheme creates a theme with all styles configured. Unknown names get
// the dark theme.
func NewTheme(name string) *Theme {
	if name != ThemeLight {
		name = ThemeDark
	}
	t := &Theme{
		Name:    name,
		IsDark:  name == ThemeDark,
		Palette: PaletteFor(name),
	}
	t.initStyles()
	return t
}

// Toggled returns the opposite theme at the same size.
func (t *Theme) Toggled() *Theme {
	next := ThemeLight
	if !t.IsDark {
		next = ThemeDark
	}
	nt := NewTheme(next)
	nt.SetSize(t.Width, t.Height)
	return nt
}

// GlamourStyle names the glamour standard style matching this theme.
func (t *Theme) GlamourStyle() string {
	if t.IsDark {
		return "dark"
	}
	return "light"
}

func (t *Theme) initStyles() {
	p := t.Palette

	// Header and status
	t.Header = lipgloss.NewStyle().
		Background(p.SurfaceDim).
		Foreground(p.TextPrimary).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(p.Brand)
	t.HeaderDetail = lipgloss.NewStyle().Foreground(p.TextSecondary)
	t.StatusBar = lipgloss.NewStyle().
		Background(p.SurfaceDim).
		Foreground(p.TextSecondary).
		Padding(0, 1)
	t.StatusError = lipgloss.NewStyle().Bold(true).Foreground(p.Error)
	t.StatusHint = lipgloss.NewStyle().Italic(true).Foreground(p.Warning)
	t.ShortcutKey = lipgloss.NewStyle().Bold(true).Foreground(p.Brand)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(p.TextMuted)

	// Messages
	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(p.User)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(p.Assistant)
	t.SystemLabel = lipgloss.NewStyle().Bold(true).Foreground(p.System)
	t.Timestamp = lipgloss.NewStyle().Foreground(p.TextMuted)
	t.MessageBody = lipgloss.NewStyle().Foreground(p.TextPrimary).PaddingLeft(2)
	t.Incomplete = lipgloss.NewStyle().Italic(true).Foreground(p.Warning)
	t.Attachment = lipgloss.NewStyle().Foreground(p.TextSecondary).PaddingLeft(2)
	t.CommandOutput = lipgloss.NewStyle().
		Foreground(p.TextSecondary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(p.Border).
		PaddingLeft(1)

	// Input
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(p.Border).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().Bold(true).Foreground(p.Brand)
	t.InputPlaceholder = lipgloss.NewStyle().Foreground(p.TextMuted)
	t.Spinner = lipgloss.NewStyle().Foreground(p.Assistant)
	t.ReplyBanner = lipgloss.NewStyle().Italic(true).Foreground(p.TextSecondary)
	t.Completion = lipgloss.NewStyle().Foreground(p.TextMuted)

	// Sidebar
	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(p.Border).
		PaddingRight(1)
	t.SidebarTitle = lipgloss.NewStyle().Bold(true).Foreground(p.Brand).MarginBottom(1)
	t.SidebarItem = lipgloss.NewStyle().Foreground(p.TextPrimary)
	t.SidebarSelected = lipgloss.NewStyle().Bold(true).Foreground(p.TextPrimary).Background(p.Selection)
	t.SidebarMeta = lipgloss.NewStyle().Foreground(p.TextMuted)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// SidebarWidth returns the sidebar width for the current layout. Narrow
// terminals get no sidebar.
func (t *Theme) SidebarWidth() int {
	switch t.GetLayoutMode() {
	case LayoutNarrow:
		return 0
	case LayoutMedium:
		return 24
	default:
		return 32
	}
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // >= 100 columns
)

// String returns the layout mode name.
func (l LayoutMode) String() string {
	switch l {
	case LayoutNarrow:
		return "narrow"
	case LayoutMedium:
		return "medium"
	default:
		return "wide"
	}
}

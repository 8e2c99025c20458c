// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the chatrelay TUI.

Two palettes exist, dark and light. The user switches between them at run
time, so colors are chosen explicitly from the active palette rather than
adapting to the terminal on every render. The terminal background only
picks the starting theme when no preference is stored.

# Color System (colors.go)

Accent colors identify speakers:

	User      - user labels
	Assistant - assistant labels and the spinner
	System    - system labels

Semantic colors (Error, Warning, Success) drive status lines. Surfaces and
text colors form the rest of each palette.

# Theme System (theme.go)

	theme := styles.NewTheme(styles.DetectTheme())
	theme.SetSize(width, height)
	label := theme.UserLabel.Render("You")

Theme.GlamourStyle names the matching glamour style for markdown, and
Theme.SidebarWidth sizes the session list for the current LayoutMode.
*/
package styles

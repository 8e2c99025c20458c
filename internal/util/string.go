// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended and counted in maxRunes.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// CollapseWhitespace replaces every run of whitespace (including newlines)
// with a single space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// filenameReplacer maps characters that are invalid in Windows or Unix
// file names to safe substitutes.
var filenameReplacer = map[rune]rune{
	'/':  '-',
	'\\': '-',
	':':  '-',
	'*':  '-',
	'?':  '-',
	'"':  '-',
	'<':  '-',
	'>':  '-',
	'|':  '-',
	' ':  '_',
	'\t': '_',
	'\n': '_',
	'\r': '_',
}

// SanitizeFilename replaces characters that are invalid in file names and
// limits the result to maxRunes. An empty result becomes fallback.
func SanitizeFilename(s string, maxRunes int, fallback string) string {
	runes := []rune(strings.TrimSpace(s))
	if maxRunes > 0 && len(runes) > maxRunes {
		runes = runes[:maxRunes]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		if replacement, found := filenameReplacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			// Replace control characters
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return fallback
	}
	return string(result)
}

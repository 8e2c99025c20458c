// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/export"
	"github.com/jeranaias/chatrelay/internal/storage"
)

// titleColumn is the width of the title column in sessions list.
const titleColumn = 36

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage saved conversations",
		Long: `List, show, rename, delete and export saved conversations.

Sessions are numbered from 1 in the order they were saved, as in the
chat's /sessions command.`,
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsShowCmd(opts),
		newSessionsRenameCmd(opts),
		newSessionsDeleteCmd(opts),
		newSessionsExportCmd(opts),
	)
	return cmd
}

// withArchive runs fn against the configured archive.
func withArchive(cmd *cobra.Command, opts *globalOptions, fn func(a *storage.Archive) error) error {
	rt, err := opts.start(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	archive, _, err := rt.openArchive()
	if err != nil {
		return err
	}
	return fn(archive)
}

// parseSessionNumber converts a 1-based session number to an index.
func parseSessionNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, &UsageError{Field: "session number", Value: arg, Reason: "must be a positive integer"}
	}
	return n - 1, nil
}

// =============================================================================
// LIST AND SHOW
// =============================================================================

// sessionJSON is the --json form of one sessions list entry.
type sessionJSON struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSessionsListCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, opts, func(a *storage.Archive) error {
				list := a.List()
				if jsonOut {
					out := make([]sessionJSON, 0, len(list))
					for _, s := range list {
						out = append(out, sessionJSON{Number: s.Index + 1, Title: s.Title, Messages: s.Messages, UpdatedAt: s.UpdatedAt})
					}
					enc := json.NewEncoder(opts.stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(out)
				}
				fmt.Fprint(opts.stdout, formatSessionList(list))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

// formatSessionList renders the archive as aligned columns. Titles are
// padded by display width so wide characters line up.
func formatSessionList(list []storage.Summary) string {
	if len(list) == 0 {
		return "No saved sessions.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%4s  %s  %8s  %s\n", "#", runewidth.FillRight("TITLE", titleColumn), "MESSAGES", "UPDATED")
	for _, s := range list {
		title := runewidth.FillRight(runewidth.Truncate(s.Title, titleColumn, "…"), titleColumn)
		fmt.Fprintf(&b, "%4d  %s  %8d  %s\n", s.Index+1, title, s.Messages, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return b.String()
}

func newSessionsShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show N",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseSessionNumber(args[0])
			if err != nil {
				return err
			}
			return withArchive(cmd, opts, func(a *storage.Archive) error {
				_, data, err := a.Export(i, export.NewTextExporter())
				if err != nil {
					return NewCommandError("sessions", "show", err)
				}
				_, err = opts.stdout.Write(data)
				return err
			})
		},
	}
}

// =============================================================================
// RENAME AND DELETE
// =============================================================================

func newSessionsRenameCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename N TITLE...",
		Short: "Rename a saved conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseSessionNumber(args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			return withArchive(cmd, opts, func(a *storage.Archive) error {
				if err := a.Rename(i, title); err != nil {
					return NewCommandError("sessions", "rename", err)
				}
				s, err := a.Session(i)
				if err != nil {
					return err
				}
				fmt.Fprintf(opts.stdout, "Session %d renamed to %q.\n", i+1, s.Title)
				return nil
			})
		},
	}
}

func newSessionsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete N",
		Aliases: []string{"rm"},
		Short:   "Delete a saved conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseSessionNumber(args[0])
			if err != nil {
				return err
			}
			return withArchive(cmd, opts, func(a *storage.Archive) error {
				s, err := a.Session(i)
				if err != nil {
					return NewCommandError("sessions", "delete", err)
				}
				if err := a.Delete(i); err != nil {
					return NewCommandError("sessions", "delete", err)
				}
				fmt.Fprintf(opts.stdout, "Deleted session %d: %s\n", i+1, s.Title)
				return nil
			})
		},
	}
}

// =============================================================================
// EXPORT
// =============================================================================

func newSessionsExportCmd(opts *globalOptions) *cobra.Command {
	var format, dir string
	cmd := &cobra.Command{
		Use:   "export N",
		Short: "Export a saved conversation to a file",
		Long: `Export a saved conversation as text, markdown, JSON or HTML.
The file name is derived from the session title.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseSessionNumber(args[0])
			if err != nil {
				return err
			}
			exporter, err := export.ForFormat(format, nil)
			if err != nil {
				return &UsageError{Field: "--format", Value: format, Reason: "must be one of " + strings.Join(export.Formats, ", ")}
			}
			return withArchive(cmd, opts, func(a *storage.Archive) error {
				s, err := a.Session(i)
				if err != nil {
					return NewCommandError("sessions", "export", err)
				}
				path, err := export.ExportToFile(&s, exporter, dir)
				if err != nil {
					return NewCommandError("sessions", "export", err)
				}
				fmt.Fprintf(opts.stdout, "Exported session %d to %s\n", i+1, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "txt, md, json or html")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	return cmd
}

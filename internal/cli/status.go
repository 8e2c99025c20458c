// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/api"
)

// StatusData is the --json form of the status command.
type StatusData struct {
	RelayURL  string      `json:"relay_url"`
	Reachable bool        `json:"reachable"`
	Error     string      `json:"error,omitempty"`
	Health    *api.Health `json:"health,omitempty"`
	Sessions  int         `json:"sessions"`
	Backend   string      `json:"archive_backend"`
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var relayURL string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the relay and the session archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.start(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			state, client, err := rt.newState(relayURL, "")
			if err != nil {
				return err
			}
			archive := state.Archive()

			data := StatusData{
				RelayURL: client.BaseURL(),
				Sessions: archive.Len(),
				Backend:  rt.cfg.Archive.Backend,
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				data.Error = err.Error()
			} else {
				data.Reachable = true
				data.Health = health
			}

			if jsonOut {
				enc := json.NewEncoder(opts.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			}
			printStatus(opts, data)
			return nil
		},
	}

	cmd.Flags().StringVar(&relayURL, "relay", "", "relay URL (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func printStatus(opts *globalOptions, data StatusData) {
	w := opts.stdout
	fmt.Fprintln(w, TitleStyle.Render("chatrelay status"))
	fmt.Fprintln(w, RenderSeparator(41))

	if data.Reachable {
		fmt.Fprintf(w, "%s %s %s\n", RenderLabel("Relay"), RenderStatus("ok"), ValueStyle.Render(data.RelayURL))
		fmt.Fprintf(w, "%s %s\n", RenderLabel("Version"), ValueStyle.Render(data.Health.Version))
		upstream := RenderStatus("ok")
		if data.Health.Upstream != "configured" {
			upstream = RenderStatus("warn")
		}
		fmt.Fprintf(w, "%s %s %s / %s\n", RenderLabel("Upstream"), upstream,
			ValueStyle.Render(data.Health.Provider), ValueStyle.Render(data.Health.Model))
	} else {
		fmt.Fprintf(w, "%s %s %s\n", RenderLabel("Relay"), RenderStatus("fail"), ValueStyle.Render(data.RelayURL))
		fmt.Fprintf(w, "%s %s\n", RenderLabel(""), DimStyle.Render(data.Error))
	}
	fmt.Fprintf(w, "%s %d saved (%s)\n", RenderLabel("Sessions"), data.Sessions, data.Backend)
}

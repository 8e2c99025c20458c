// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/server"
)

// Version information (can be overridden at build time)
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions holds the persistent flags and the process streams every
// command writes to.
type globalOptions struct {
	configPath string
	debug      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the command tree against the process streams and returns the
// exit code.
func Execute() int {
	configureColors()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// NewRootCmd builds the chatrelay command tree.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Streaming chat relay and terminal client",
		Long: `chatrelay streams chat completions from OpenAI or OpenRouter through a
local relay and talks to it from a terminal chat client.

Examples:
  chatrelay serve                       Start the relay on 127.0.0.1:8787
  chatrelay chat                        Full-screen chat
  chatrelay chat --plain                Line-mode chat with history
  chatrelay ask "What is Go?"           One-shot question
  chatrelay sessions list               Saved conversations
  chatrelay config init                 Write ~/.chatrelay/config.toml`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.chatrelay/config.toml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "debug logging, mirrored to stderr")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newAskCmd(opts),
		newSessionsCmd(opts),
		newConfigCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

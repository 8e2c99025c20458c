// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/server"
)

// ShutdownTimeout bounds graceful shutdown of the relay.
const ShutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming relay",
		Long: `Run the HTTP relay that streams completions from the configured upstream.

Endpoints:
  POST /chat     stream a reply as text/plain
  POST /image    describe an uploaded image
  GET  /health   relay and upstream status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.start(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cmd.Flags().Changed("addr") {
				rt.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("port") {
				if port < 1 || port > 65535 {
					return &UsageError{Field: "--port", Value: fmt.Sprint(port), Reason: "must be between 1 and 65535"}
				}
				rt.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), opts, rt)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}

// newUpstream builds the completion client from the upstream settings.
func newUpstream(cfg *config.Config, rt *runtime) *cloud.Client {
	up := cfg.Upstream
	return cloud.NewClient(cloud.Options{
		Provider:    up.Provider,
		BaseURL:     up.BaseURL,
		APIKey:      up.APIKey,
		Model:       up.Model,
		VisionModel: up.VisionModel,
		SiteURL:     up.SiteURL,
		SiteName:    up.SiteName,
		Timeout:     up.Timeout.Duration,
		ImagePrompt: up.ImagePrompt,
		Logger:      rt.logger,
	})
}

func runServe(ctx context.Context, opts *globalOptions, rt *runtime) error {
	cfg := rt.cfg
	upstream := newUpstream(cfg, rt)
	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		Port:              cfg.Server.Port,
		MaxStreamDuration: cfg.Server.MaxStreamDuration.Duration,
		MaxRequestBytes:   cfg.Server.MaxRequestBytes,
		CORSOrigins:       cfg.Server.CORSOrigins,
		Logger:            rt.logger,
	}, upstream)

	if !upstream.IsConfigured() {
		fmt.Fprintf(opts.stderr, "%s no API key for %s; /chat and /image will fail until one is set\n",
			WarningStyle.Render("[WARN]"), upstream.Provider())
	}
	fmt.Fprintf(opts.stdout, "%s relay listening on http://%s (%s, %s)\n",
		TitleStyle.Render("chatrelay"), srv.Address(), upstream.Provider(), upstream.Model())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("relay stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	fmt.Fprintln(opts.stdout, DimStyle.Render("relay stopped"))
	return <-errCh
}

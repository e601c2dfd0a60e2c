package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadeh/flowrecap/internal/device"
	"github.com/ziadeh/flowrecap/internal/server"
	"github.com/ziadeh/flowrecap/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control server for the desktop client",
	Long: `Start the HTTP control server. The desktop client drives recording
through /api/start, /api/stop, /api/pause and /api/resume, and
subscribes to /ws/levels, /ws/health and /ws/audio for live data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}

		controller := session.NewController(cfg)
		srv := server.New(controller, device.NewResolver(nil), cfg.Server.Port)

		// Shut down cleanly on Ctrl+C so an active recording is
		// finalized rather than truncated.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Error("shutdown failed", "error", err)
			}
		}()

		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the control server (overrides config)")
}

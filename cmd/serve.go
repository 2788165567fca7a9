package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/solos-app/sol-engine/internal/config"
	"github.com/solos-app/sol-engine/internal/dispatch"
	"github.com/solos-app/sol-engine/internal/metrics"
	"github.com/solos-app/sol-engine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sol-engine HTTP server",
	Long: `Starts the companion engine: REST API for chat, sample logging, forecasts
and personality state, plus a websocket channel for proactive suggestions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		logger := newLogger()

		hub := server.NewHub(logger)
		deliveries := []dispatch.Delivery{hub}
		if cfg.Dispatch.WebhookURL != "" {
			deliveries = append(deliveries, dispatch.NewWebhookDelivery(cfg.Dispatch.WebhookURL))
		}
		deliveries = append(deliveries, dispatch.NewLogDelivery(logger))

		stack, err := buildEngine(cmd.Context(), cfg, logger, deliveries)
		if err != nil {
			return err
		}
		defer stack.database.Close()

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		srv := server.New(server.Config{
			Port:     cfg.Server.Port,
			AllowAll: cfg.Server.AllowAll,
		}, server.Deps{
			Database:      stack.database,
			Features:      stack.features,
			Patterns:      stack.patterns,
			Predictor:     stack.predictor,
			Tracker:       stack.tracker,
			Memories:      stack.memories,
			Companion:     stack.companion,
			Proactive:     stack.proactive,
			Notifications: stack.notifications,
			Hub:           hub,
		}, logger)

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			srv.Shutdown(context.Background())
		}()

		logger.Info("sol-engine starting",
			"version", Version,
			"port", cfg.Server.Port,
			"data_dir", cfg.DataDir,
			"recall", cfg.Memory.RecallEnabled)

		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured HTTP port")
	rootCmd.AddCommand(serveCmd)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solos-app/sol-engine/internal/config"
	"github.com/solos-app/sol-engine/internal/dispatch"
	mcpserver "github.com/solos-app/sol-engine/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long: `Starts a Model Context Protocol (MCP) server on stdio, exposing conversation
recall, forecasting, sample logging, and personality tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := newLogger()

		// No websocket or webhook sink on stdio; suggestions go to the log.
		deliveries := []dispatch.Delivery{dispatch.NewLogDelivery(logger)}

		stack, err := buildEngine(cmd.Context(), cfg, logger, deliveries)
		if err != nil {
			return err
		}
		defer stack.database.Close()

		mcpserver.Version = Version
		logger.Info("sol-engine MCP server started on stdio", "data_dir", cfg.DataDir)

		srv := mcpserver.NewServer(mcpserver.Deps{
			Features:  stack.features,
			Predictor: stack.predictor,
			Tracker:   stack.tracker,
			Recall:    stack.recall,
			Proactive: stack.proactive,
		})
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

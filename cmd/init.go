package cmd

import (
	"github.com/spf13/cobra"

	"github.com/solos-app/sol-engine/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize sol-engine configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure sol-engine and generates a .solengine.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

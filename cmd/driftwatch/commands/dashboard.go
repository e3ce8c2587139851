package commands

import (
	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the drift dashboard in the default browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Str("url", cfg.FrontendURL).Msg("Opening dashboard")
		return browser.OpenURL(cfg.FrontendURL)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"driftwatch/internal/baseline"
	"driftwatch/internal/drift"
	"driftwatch/internal/logfiles"
	"driftwatch/internal/mcp"
	"driftwatch/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analysis tools over a stdio JSON-RPC (MCP) loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		models, err := baseline.NewManager(cfg.ModelPath)
		if err != nil {
			return err
		}

		log.Info().Msg("MCP server starting stdio loop")
		server := mcp.NewServer(cfg, st, models, drift.NewDetector(newScorer(cfg)), logfiles.NewCatalog(cfg.LogsDir))
		return server.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

package commands

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"driftwatch/internal/api"
	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/drift"
	"driftwatch/internal/logfiles"
	"driftwatch/internal/logging"
	"driftwatch/internal/store"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Driftwatch detects silent security drift in CI/CD pipelines",
	Long: `Driftwatch ingests heterogeneous pipeline logs (GitHub Actions, GitLab CI,
Jenkins, Azure DevOps, CircleCI or arbitrary JSON), normalizes them into
canonical steps and scores their deviation from a trained baseline.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(verbose)

		var err error
		cfg, err = config.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Msg("Driftwatch starting")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()

		models, err := baseline.NewManager(cfg.ModelPath)
		if err != nil {
			return err
		}

		server := api.NewServer(cfg, st, models, drift.NewDetector(newScorer(cfg)), logfiles.NewCatalog(cfg.LogsDir), Version)
		return server.Start(ctx)
	},
}

// newScorer picks the configured drift-scoring strategy: the built-in
// weighted z-score, or the external anomaly detector when SCORER_URL is set.
func newScorer(cfg *config.AppConfig) drift.Scorer {
	if cfg.Scorer.URL != "" {
		log.Info().Str("url", cfg.Scorer.URL).Msg("Using external drift scorer")
		return drift.NewRemoteScorer(cfg.Scorer.URL, cfg.Scorer.Timeout, cfg.Scorer.Retries)
	}
	return drift.ZScoreScorer{}
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

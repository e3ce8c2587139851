package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"driftwatch/internal/baseline"
	"driftwatch/internal/features"
	"driftwatch/internal/logfiles"
	"driftwatch/internal/normalizer"
)

var (
	trainModelName string
	trainRetrain   bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the baseline model from the stored pipeline-log-*.json files",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := logfiles.NewCatalog(cfg.LogsDir)
		files, err := catalog.List()
		if err != nil {
			return err
		}
		if len(files) < 2 {
			return fmt.Errorf("training needs at least 2 log files in %s, found %d", cfg.LogsDir, len(files))
		}

		vectors := make([]features.Vector, len(files))
		names := make([]string, len(files))
		failures := make([]error, len(files))

		var g errgroup.Group
		g.SetLimit(8)
		for i, file := range files {
			g.Go(func() error {
				data, err := catalog.Read(file.Name)
				if err != nil {
					failures[i] = err
					return nil
				}
				run, err := normalizer.Normalize(data)
				if err != nil {
					failures[i] = fmt.Errorf("%s: %w", file.Name, err)
					return nil
				}
				vec, err := features.Extract(run)
				if err != nil {
					failures[i] = fmt.Errorf("%s: %w", file.Name, err)
					return nil
				}
				vectors[i] = vec
				names[i] = run.Pipeline
				return nil
			})
		}
		g.Wait()

		var valid []features.Vector
		modelName := trainModelName
		for i := range files {
			if failures[i] != nil {
				log.Warn().Err(failures[i]).Msg("Skipping baseline log")
				continue
			}
			valid = append(valid, vectors[i])
			if modelName == "" {
				modelName = names[i]
			}
		}
		if len(valid) < 2 {
			return fmt.Errorf("only %d of %d logs were usable; at least 2 required", len(valid), len(files))
		}

		manager, err := baseline.NewManager(cfg.ModelPath)
		if err != nil {
			return err
		}

		var model *baseline.Model
		if trainRetrain {
			old, _ := manager.Current()
			model, err = baseline.Retrain(old, valid, modelName)
		} else {
			model, err = baseline.Train(valid, modelName)
		}
		if err != nil {
			return err
		}
		if err := manager.Replace(model); err != nil {
			return err
		}

		log.Info().
			Str("model", modelName).
			Int("runs", model.BaselineRunCount).
			Str("path", manager.Path()).
			Msg("Baseline trained")
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainModelName, "model-name", "", "name recorded in the trained model (default: first pipeline name)")
	trainCmd.Flags().BoolVar(&trainRetrain, "retrain", false, "pool the new logs into the existing model instead of replacing it")
	rootCmd.AddCommand(trainCmd)
}

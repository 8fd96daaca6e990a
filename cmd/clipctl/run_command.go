package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"clipmill/internal/adapters/storage/localfs"
	"clipmill/internal/app"
	"clipmill/internal/batch"
	"clipmill/internal/config"
	"clipmill/internal/manifest"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/logger"
)

// engineOptions lets tests swap the transformer.
var engineOptions = app.Options{}

func newRunCommand(configFlag *string) *cobra.Command {
	var (
		variants  int
		noCaption bool
		format    string
		level     string
		outDir    string
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Process local files synchronously into N variants",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFlag)
			if err != nil {
				return err
			}

			absOut, err := filepath.Abs(outDir)
			if err != nil {
				return fmt.Errorf("resolve output dir: %w", err)
			}
			cfg.Storage.Provider = "localfs"
			cfg.Storage.LocalRoot = absOut

			logLevel := "warn"
			if verbose {
				logLevel = "debug"
			}
			log := logger.New(logger.Config{
				Level:       logLevel,
				Format:      "text",
				Output:      cmd.ErrOrStderr(),
				ServiceName: "clipctl",
			})

			items, err := readLocalItems(args)
			if err != nil {
				return err
			}

			store := localfs.New(absOut, cfg.Storage.PublicBaseURL)
			engine, err := app.NewEngine(cfg, store, log, engineOptions)
			if err != nil {
				return err
			}
			if err := engine.Preflight(cmd.Context(), cfg); err != nil {
				return err
			}

			snap, err := engine.Scheduler.Submit(cmd.Context(), items, batch.Options{
				VariantCount:   variants,
				NoCaption:      noCaption,
				Level:          level,
				ManifestFormat: manifest.Format(format),
			})
			if err != nil {
				return err
			}

			renderSnapshot(cmd.OutOrStdout(), snap)
			fmt.Fprintf(cmd.OutOrStdout(), "Outputs written under %s\n", absOut)
			if snap.Status == batch.StatusError {
				return errors.New(snap.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&variants, "variants", "n", 1, "Number of account variants")
	cmd.Flags().BoolVar(&noCaption, "no-caption", false, "Skip captions and hashtags")
	cmd.Flags().StringVar(&format, "format", "basic", "Manifest format (basic or scheduler)")
	cmd.Flags().StringVar(&level, "level", "", "Variation profile")
	cmd.Flags().StringVarP(&outDir, "out", "o", "clipmill-out", "Directory for outputs and manifests")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	return cmd
}

func readLocalItems(paths []string) ([]pipeline.Item, error) {
	items := make([]pipeline.Item, 0, len(paths))
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("file does not exist: %s", p)
			}
			return nil, fmt.Errorf("inspect file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		items = append(items, pipeline.Item{
			ID:      fmt.Sprintf("item-%d", i),
			Name:    filepath.Base(p),
			Ordinal: i,
			Data:    data,
		})
	}
	return items, nil
}

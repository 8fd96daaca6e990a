// Package app assembles the batch engine (transformer, pipeline, runner and
// scheduler) from configuration. cmd/api and cmd/clipctl share it.
package app

import (
	"context"
	"fmt"

	"clipmill/internal/batch"
	"clipmill/internal/config"
	"clipmill/internal/content"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/ports"
	"clipmill/internal/scheduler"
	"clipmill/internal/transform"
)

type Engine struct {
	Scheduler   *scheduler.Scheduler
	Runner      *batch.Runner
	Transformer transform.Transformer
}

// Options overrides pieces that tests and the CLI swap out.
type Options struct {
	// Transformer replaces the one selected by cfg.Transform.
	Transformer transform.Transformer
	// Salt fixes parameter derivation; zero is random per process.
	Salt uint64
}

func NewEngine(cfg *config.Config, sp ports.StorageProvider, log *logger.Logger, opts Options) (*Engine, error) {
	if log == nil {
		log = logger.NewDefault()
	}

	tr := opts.Transformer
	if tr == nil {
		var err error
		if tr, err = transform.New(cfg.Transform, log); err != nil {
			return nil, err
		}
	}

	pools, err := content.LoadPools(cfg.Content.PoolsFile)
	if err != nil {
		return nil, fmt.Errorf("load content pools: %w", err)
	}

	pipe := pipeline.New(sp, tr, pipeline.Config{
		TempDir: cfg.Pipeline.TempDir,
		Timeouts: pipeline.Timeouts{
			Fetch:     cfg.Pipeline.FetchTimeout.Duration,
			Transform: cfg.Pipeline.TransformTimeout.Duration,
			Publish:   cfg.Pipeline.PublishTimeout.Duration,
		},
	}, log)

	runner := batch.NewRunner(batch.RunnerConfig{
		Pipeline:        pipe,
		Storage:         sp,
		Pools:           pools,
		ItemConcurrency: cfg.Scheduler.ItemConcurrency,
		RetryAttempts:   cfg.Pipeline.RetryAttempts,
		RetryBackoff:    cfg.Pipeline.RetryBackoff.Duration,
		Salt:            opts.Salt,
		Log:             log,
	})

	sched := scheduler.New(runner, scheduler.Config{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		Limits: batch.Limits{
			MaxVariants: cfg.Scheduler.MaxVariants,
			MaxItems:    cfg.Scheduler.MaxItems,
		},
		JobTTL: cfg.Scheduler.JobTTL.Duration,
		Log:    log,
	})

	return &Engine{Scheduler: sched, Runner: runner, Transformer: tr}, nil
}

// Preflight checks that the transformer can run. Only ffmpeg has a local
// check; the remote renderer is checked on its first request.
func (e *Engine) Preflight(ctx context.Context, cfg *config.Config) error {
	if e.Transformer.Name() != "ffmpeg" {
		return nil
	}
	return transform.CheckFFmpeg(ctx, cfg.Transform.FFmpegPath)
}

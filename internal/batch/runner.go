package batch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"clipmill/internal/content"
	"clipmill/internal/manifest"
	"clipmill/internal/params"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/ports"

	"golang.org/x/sync/errgroup"
)

// ItemRunner runs the pipeline for one pair. *pipeline.Pipeline satisfies it.
type ItemRunner interface {
	Run(ctx context.Context, task pipeline.Task) pipeline.Result
}

type RunnerConfig struct {
	Pipeline ItemRunner
	// Storage receives the manifest CSVs; nil skips the upload.
	Storage ports.StorageProvider
	Pools   content.Pools

	ItemConcurrency int
	RetryAttempts   int
	RetryBackoff    time.Duration

	// Salt fixes the parameter derivation; zero picks a random salt.
	Salt uint64
	// Rand supplies the per-job random source for shuffles.
	Rand func() *rand.Rand
	Now  func() time.Time
	Log  *logger.Logger
}

// Runner executes batch jobs.
type Runner struct {
	pipeline        ItemRunner
	storage         ports.StorageProvider
	pools           content.Pools
	itemConcurrency int
	retryAttempts   int
	retryBackoff    time.Duration
	salt            uint64
	newRand         func() *rand.Rand
	now             func() time.Time
	log             *logger.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault()
	}
	if cfg.ItemConcurrency < 1 {
		cfg.ItemConcurrency = 1
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.Salt == 0 {
		cfg.Salt = rand.Uint64()
	}
	if cfg.Rand == nil {
		cfg.Rand = func() *rand.Rand { return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		pipeline:        cfg.Pipeline,
		storage:         cfg.Storage,
		pools:           cfg.Pools,
		itemConcurrency: cfg.ItemConcurrency,
		retryAttempts:   cfg.RetryAttempts,
		retryBackoff:    cfg.RetryBackoff,
		salt:            cfg.Salt,
		newRand:         cfg.Rand,
		now:             cfg.Now,
		log:             cfg.Log.WithComponent("batch"),
	}
}

// NewJob builds a job whose timestamps follow the runner's clock.
func (r *Runner) NewJob(id string, items []pipeline.Item, opts Options) *Job {
	return NewJob(id, items, opts, r.now)
}

// Run drives every (item, variant) pair of job to completion and assembles
// the manifests. A single failing pair never stops the others. Panics in
// item goroutines are re-raised here so the caller's crash boundary sees them.
func (r *Runner) Run(ctx context.Context, job *Job) {
	log := r.log.FromContext(ctx).WithJobID(job.ID)
	job.start()

	opts := job.Options()
	items := job.Items()
	profile, err := params.LookupProfile(opts.Level)
	if err != nil {
		profile = params.Standard
	}
	deriver := params.NewSeededDeriver(profile, r.salt)
	rnd := r.newRand()
	assignments := content.NewAllocator(r.pools, rnd).Allocate(len(items)*opts.VariantCount, opts.NoCaption)

	log.Info("batch started", "items", len(items), "variants", opts.VariantCount)

	var (
		g         errgroup.Group
		crashOnce sync.Once
		crashed   any
	)
	g.SetLimit(r.itemConcurrency)

	// Se despachan en orden del pool, variante por variante
	for v := 1; v <= opts.VariantCount; v++ {
		for i, it := range items {
			it.Ordinal = i
			ord := params.GlobalOrdinal(v, len(items), i)
			task := pipeline.Task{
				JobID:      job.ID,
				Item:       it,
				Variant:    v,
				Params:     deriver.Derive(ord),
				Assignment: assignments[ord],
			}
			g.Go(func() error {
				defer func() {
					if rec := recover(); rec != nil {
						crashOnce.Do(func() { crashed = rec })
					}
				}()
				job.record(r.runWithRetry(ctx, task))
				return nil
			})
		}
	}
	_ = g.Wait()
	if crashed != nil {
		panic(crashed)
	}

	manifests := r.buildManifests(ctx, job, rnd)
	job.finish(manifests)

	snap := job.Snapshot()
	log.Info("batch finished",
		"status", snap.Status,
		"successes", snap.Successes(),
		"failures", len(snap.Errors),
	)
}

func (r *Runner) runWithRetry(ctx context.Context, task pipeline.Task) pipeline.Result {
	for attempt := 1; ; attempt++ {
		task.Attempt = attempt
		res := r.pipeline.Run(ctx, task)
		res.Attempts = attempt
		if res.OK() || attempt > r.retryAttempts || ctx.Err() != nil {
			return res
		}

		r.log.Debug("retrying item",
			"job_id", task.JobID,
			"variant", task.Variant,
			"ordinal", task.Item.Ordinal,
			"stage", res.Failure.Stage,
			"attempt", attempt,
		)
		if r.retryBackoff > 0 {
			t := time.NewTimer(r.retryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return res
			case <-t.C:
			}
		}
	}
}

// buildManifests shuffles each variant's bucket independently and publishes
// the CSV next to the outputs. Upload failures leave URL empty.
func (r *Runner) buildManifests(ctx context.Context, job *Job, rnd *rand.Rand) []manifest.Manifest {
	opts := job.Options()
	out := make([]manifest.Manifest, 0, opts.VariantCount)

	for v := 1; v <= opts.VariantCount; v++ {
		bucket := job.bucket(v)
		rnd.Shuffle(len(bucket), func(a, b int) { bucket[a], bucket[b] = bucket[b], bucket[a] })

		m := manifest.Manifest{Variant: v, Format: opts.ManifestFormat, Rows: make([]manifest.Row, 0, len(bucket))}
		if m.Format == "" {
			m.Format = manifest.FormatBasic
		}
		for i, res := range bucket {
			m.Rows = append(m.Rows, manifest.Row{
				Text:      content.Assignment{Caption: res.Caption, Hashtags: res.Hashtags}.Text(),
				MediaURL:  res.DestinationURL,
				Hashtags:  res.Hashtags,
				PublishAt: opts.PublishAt(i),
				Account:   opts.Account(v),
			})
		}

		if r.storage != nil && len(m.Rows) > 0 {
			url, err := r.uploadManifest(ctx, job.ID, m)
			if err != nil {
				r.log.Warn("manifest upload failed", "job_id", job.ID, "variant", v, "error", err)
			}
			m.URL = url
		}
		out = append(out, m)
	}
	return out
}

// ManifestKey is where the CSV of one variant is published.
func ManifestKey(jobID string, variant int) string {
	return fmt.Sprintf("manifests/%s/variant-%d.csv", pipeline.SanitizeName(jobID), variant)
}

func (r *Runner) uploadManifest(ctx context.Context, jobID string, m manifest.Manifest) (string, error) {
	body := m.CSV()
	out, err := r.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   ManifestKey(jobID, m.Variant),
		ContentType: "text/csv",
		Reader:      strings.NewReader(body),
		Size:        int64(len(body)),
	})
	if err != nil {
		return "", err
	}
	return r.storage.PublicURL(ctx, out.ObjectKey)
}

// Package pipeline runs fetch, transform and publish for one (item, variant)
// pair. Run never returns an error or panics past its boundary: every outcome
// is a Result.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipmill/internal/pkg/logger"
	"clipmill/internal/ports"
	"clipmill/internal/transform"
)

type Config struct {
	TempDir  string
	Timeouts Timeouts
	// Now anchors the synthetic creation_time; defaults to time.Now.
	Now func() time.Time
}

type Pipeline struct {
	storage     ports.StorageProvider
	transformer transform.Transformer
	tempDir     string
	timeouts    Timeouts
	now         func() time.Time
	log         *logger.Logger
}

func New(sp ports.StorageProvider, tr transform.Transformer, cfg Config, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "clipmill")
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		storage:     sp,
		transformer: tr,
		tempDir:     cfg.TempDir,
		timeouts:    cfg.Timeouts,
		now:         cfg.Now,
		log:         log.WithComponent("pipeline"),
	}
}

// Run executes the three stages for task.
func (p *Pipeline) Run(ctx context.Context, task Task) (res Result) {
	log := p.log.FromContext(ctx).
		WithJobID(task.JobID).
		WithVariant(task.Variant).
		WithItem(task.Item.Ordinal, task.Item.Name)

	res = Result{
		Variant:    task.Variant,
		Ordinal:    task.Item.Ordinal,
		ItemID:     task.Item.ID,
		SourceName: task.Item.Name,
		Caption:    task.Assignment.Caption,
		Hashtags:   task.Assignment.Hashtags,
		Attempts:   max(task.Attempt, 1),
	}
	fail := func(err error) Result {
		res.Failure = failureOf(err)
		log.Warn("item failed", "stage", res.Failure.Stage, "error", res.Failure.Message, "attempt", res.Attempts)
		return res
	}

	// Workspace propio por job, variante, item e intento
	workDir := p.workDir(task)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fail(stageError(StageFetch, fmt.Errorf("failed to create workspace: %w", err)))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("workspace cleanup failed", "dir", workDir, "error", err)
		}
	}()

	inPath := filepath.Join(workDir, "input"+inputExt(task.Item))
	outPath := filepath.Join(workDir, "output.mp4")

	// 1. Obtener el source
	if err := runStage(ctx, StageFetch, p.timeouts.Fetch, func(ctx context.Context) error {
		return p.fetch(ctx, task.Item, inPath)
	}); err != nil {
		return fail(err)
	}

	// 2. Transformar
	if err := runStage(ctx, StageTransform, p.timeouts.Transform, func(ctx context.Context) error {
		if err := p.transformer.Transform(ctx, transform.Request{
			JobID:      task.JobID,
			InputPath:  inPath,
			OutputPath: outPath,
			Params:     task.Params,
			BaseTime:   p.now(),
		}); err != nil {
			return err
		}
		st, err := os.Stat(outPath)
		if err != nil || st.Size() == 0 {
			return fmt.Errorf("transformer produced no output")
		}
		return nil
	}); err != nil {
		return fail(err)
	}

	// 3. Publicar
	key := OutputKey(task.JobID, task.Variant, task.Item.Ordinal, task.Item.Name)
	var objectKey, url string
	if err := runStage(ctx, StagePublish, p.timeouts.Publish, func(ctx context.Context) error {
		var err error
		objectKey, url, err = p.publish(ctx, key, outPath)
		return err
	}); err != nil {
		return fail(err)
	}
	res.ObjectKey, res.DestinationURL = objectKey, url

	log.Debug("item published", "object_key", res.ObjectKey)
	return res
}

func (p *Pipeline) workDir(task Task) string {
	return filepath.Join(p.tempDir, SanitizeName(task.JobID),
		fmt.Sprintf("v%d-i%d-%d", task.Variant, task.Item.Ordinal, max(task.Attempt, 1)))
}

func (p *Pipeline) fetch(ctx context.Context, it Item, dst string) error {
	if it.Resident() {
		return os.WriteFile(dst, it.Data, 0o644)
	}
	if strings.TrimSpace(it.ObjectKey) == "" {
		return fmt.Errorf("item %d has no source", it.Ordinal)
	}

	rc, _, _, err := p.storage.GetObject(ctx, it.ObjectKey)
	if err != nil {
		return fmt.Errorf("download failed key=%s: %w", it.ObjectKey, err)
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("download interrupted key=%s: %w", it.ObjectKey, err)
	}
	return f.Close()
}

func (p *Pipeline) publish(ctx context.Context, key, path string) (objectKey, url string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", "", err
	}

	out, err := p.storage.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "video/mp4",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", "", fmt.Errorf("upload failed: %w", err)
	}

	url, err = p.storage.PublicURL(ctx, out.ObjectKey)
	if err != nil {
		return "", "", fmt.Errorf("public url failed: %w", err)
	}
	return out.ObjectKey, url, nil
}

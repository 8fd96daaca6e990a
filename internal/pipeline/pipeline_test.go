package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipmill/internal/adapters/storage/memory"
	"clipmill/internal/content"
	"clipmill/internal/params"
	"clipmill/internal/pkg/errors"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/ports"
	"clipmill/internal/transform"
)

type fakeTransformer func(ctx context.Context, req transform.Request) error

func (f fakeTransformer) Name() string { return "fake" }

func (f fakeTransformer) Transform(ctx context.Context, req transform.Request) error {
	return f(ctx, req)
}

func copyTransform(ctx context.Context, req transform.Request) error {
	in, err := os.ReadFile(req.InputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, append([]byte("out:"), in...), 0o644)
}

type failingPut struct {
	*memory.Store
}

func (f failingPut) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	return ports.PutObjectOutput{}, fmt.Errorf("bucket is read-only")
}

func newTestPipeline(t *testing.T, sp ports.StorageProvider, tr transform.Transformer, timeouts Timeouts) (*Pipeline, string) {
	t.Helper()
	tmp := t.TempDir()
	return New(sp, tr, Config{TempDir: tmp, Timeouts: timeouts}, logger.Discard()), tmp
}

func testTask(item Item) Task {
	return Task{
		JobID:      "job-1",
		Item:       item,
		Variant:    2,
		Params:     params.NewSeededDeriver(params.Standard, 1).Derive(3),
		Assignment: content.Assignment{Caption: "hello", Hashtags: []string{"#a", "#b"}},
		Attempt:    1,
	}
}

func assertWorkspaceClean(t *testing.T, tmp string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(tmp, "job-1"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected temp workspace to be removed, found %d entries", len(entries))
	}
}

func TestRunResidentItem(t *testing.T) {
	store := memory.New("https://cdn.test")
	p, tmp := newTestPipeline(t, store, fakeTransformer(copyTransform), DefaultTimeouts())

	res := p.Run(context.Background(), testTask(Item{ID: "it-1", Name: "clip one.mp4", Ordinal: 1, Data: []byte("src")}))
	if !res.OK() {
		t.Fatalf("unexpected failure %+v", res.Failure)
	}

	wantKey := "outputs/job-1/v2/1-clip_one.mp4"
	if res.ObjectKey != wantKey {
		t.Errorf("object key = %q, want %q", res.ObjectKey, wantKey)
	}
	if res.DestinationURL != "https://cdn.test/"+wantKey {
		t.Errorf("destination = %q", res.DestinationURL)
	}
	if res.Caption != "hello" || len(res.Hashtags) != 2 || res.Variant != 2 || res.Ordinal != 1 || res.SourceName != "clip one.mp4" {
		t.Errorf("unexpected result %+v", res)
	}

	rc, _, _, err := store.GetObject(context.Background(), wantKey)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "out:src" {
		t.Errorf("stored body %q", body)
	}
	assertWorkspaceClean(t, tmp)
}

func TestRunFetchByReference(t *testing.T) {
	store := memory.New("")
	_, _ = store.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: "uploads/x.mp4", Reader: strings.NewReader("remote")})
	p, _ := newTestPipeline(t, store, fakeTransformer(copyTransform), DefaultTimeouts())

	res := p.Run(context.Background(), testTask(Item{Name: "x.mp4", ObjectKey: "uploads/x.mp4"}))
	if !res.OK() {
		t.Fatalf("unexpected failure %+v", res.Failure)
	}

	res = p.Run(context.Background(), testTask(Item{Name: "gone.mp4", ObjectKey: "uploads/gone.mp4"}))
	if res.OK() || res.Failure.Stage != StageFetch {
		t.Fatalf("expected fetch failure, got %+v", res)
	}
	if res.DestinationURL != "" {
		t.Errorf("failed result should have no destination")
	}

	res = p.Run(context.Background(), testTask(Item{Name: "nothing.mp4"}))
	if res.OK() || res.Failure.Stage != StageFetch {
		t.Fatalf("expected fetch failure for sourceless item, got %+v", res)
	}
}

func TestRunStageFailures(t *testing.T) {
	tests := []struct {
		name      string
		tr        fakeTransformer
		storage   func() ports.StorageProvider
		timeouts  Timeouts
		wantStage string
		wantMsg   string
	}{
		{
			name:      "transform error",
			tr:        func(context.Context, transform.Request) error { return fmt.Errorf("encoder exited 1") },
			wantStage: StageTransform,
			wantMsg:   "encoder exited 1",
		},
		{
			name: "transform timeout",
			tr: func(ctx context.Context, _ transform.Request) error {
				<-ctx.Done()
				return ctx.Err()
			},
			timeouts:  Timeouts{Fetch: time.Second, Transform: 50 * time.Millisecond, Publish: time.Second},
			wantStage: StageTransform,
			wantMsg:   "timed out",
		},
		{
			name:      "transform panic",
			tr:        func(context.Context, transform.Request) error { panic("nil filter") },
			wantStage: StageTransform,
			wantMsg:   "panic: nil filter",
		},
		{
			name:      "transform writes nothing",
			tr:        func(context.Context, transform.Request) error { return nil },
			wantStage: StageTransform,
			wantMsg:   "no output",
		},
		{
			name:      "publish error",
			tr:        copyTransform,
			storage:   func() ports.StorageProvider { return failingPut{memory.New("")} },
			wantStage: StagePublish,
			wantMsg:   "read-only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sp ports.StorageProvider = memory.New("")
			if tt.storage != nil {
				sp = tt.storage()
			}
			timeouts := tt.timeouts
			if timeouts == (Timeouts{}) {
				timeouts = DefaultTimeouts()
			}
			p, tmp := newTestPipeline(t, sp, tt.tr, timeouts)

			res := p.Run(context.Background(), testTask(Item{Name: "a.mp4", Ordinal: 0, Data: []byte("x")}))
			if res.OK() {
				t.Fatal("expected failure")
			}
			if res.Failure.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", res.Failure.Stage, tt.wantStage)
			}
			if !strings.Contains(res.Failure.Message, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", res.Failure.Message, tt.wantMsg)
			}
			assertWorkspaceClean(t, tmp)
		})
	}
}

func TestRunStage(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		if err := runStage(context.Background(), "fetch", time.Second, func(context.Context) error { return nil }); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("timer wins over a stage that ignores its context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		start := time.Now()
		err := runStage(context.Background(), "publish", 30*time.Millisecond, func(context.Context) error {
			<-release
			return nil
		})
		if !errors.IsCode(err, errors.CodeTimeout) || errors.StageOf(err) != "publish" {
			t.Fatalf("expected publish timeout, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Error("timeout did not fire promptly")
		}
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := runStage(ctx, "fetch", time.Second, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		if !errors.IsCode(err, errors.CodeStage) {
			t.Fatalf("expected stage failure, got %v", err)
		}
	})
}

func TestOutputKey(t *testing.T) {
	tests := []struct {
		job     string
		variant int
		ord     int
		name    string
		want    string
	}{
		{"j1", 1, 0, "clip.mov", "outputs/j1/v1/0-clip.mp4"},
		{"j1", 3, 12, "../../etc/passwd", "outputs/j1/v3/12-passwd.mp4"},
		{"j/2", 1, 1, "", "outputs/j_2/v1/1-item.mp4"},
	}
	for _, tt := range tests {
		if got := OutputKey(tt.job, tt.variant, tt.ord, tt.name); got != tt.want {
			t.Errorf("OutputKey(%q,%d,%d,%q) = %q, want %q", tt.job, tt.variant, tt.ord, tt.name, got, tt.want)
		}
	}
}

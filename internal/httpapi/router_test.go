package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clipmill/internal/adapters/storage/memory"
	"clipmill/internal/batch"
	"clipmill/internal/content"
	"clipmill/internal/httpapi/handlers"
	"clipmill/internal/manifest"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/scheduler"
	"clipmill/internal/transform"

	"github.com/redis/go-redis/v9"
)

// copyTransformer writes the input bytes to the output path.
type copyTransformer struct{}

func (copyTransformer) Name() string { return "copy" }

func (copyTransformer) Transform(ctx context.Context, req transform.Request) error {
	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, data, 0o644)
}

type failingPing struct{}

func (failingPing) Ping(ctx context.Context) error { return errors.New("connection refused") }

type okRedis struct{}

func (okRedis) Ping(ctx context.Context) *redis.StatusCmd { return redis.NewStatusResult("PONG", nil) }

type testServer struct {
	*httptest.Server
	store *memory.Store
	sched *scheduler.Scheduler
}

func newTestServer(t *testing.T, maxJobs int) *testServer {
	t.Helper()

	store := memory.New("https://cdn.test")
	pipe := pipeline.New(store, copyTransformer{}, pipeline.Config{TempDir: t.TempDir()}, logger.Discard())
	runner := batch.NewRunner(batch.RunnerConfig{
		Pipeline:        pipe,
		Storage:         store,
		Pools:           content.DefaultPools(),
		ItemConcurrency: 2,
		Salt:            11,
		Rand:            func() *rand.Rand { return rand.New(rand.NewPCG(3, 4)) },
		Log:             logger.Discard(),
	})
	var n atomic.Int32
	sched := scheduler.New(runner, scheduler.Config{
		MaxConcurrentJobs: maxJobs,
		Limits:            batch.Limits{MaxVariants: 5, MaxItems: 10},
		NewID:             func() string { return fmt.Sprintf("job-%d", n.Add(1)) },
		Log:               logger.Discard(),
	})

	srv := httptest.NewServer(NewRouter(Deps{
		Log: logger.Discard(),
		Handlers: handlers.Deps{
			Batches:  sched,
			Capacity: sched.Limiter(),
			SP:       store,
			RDB:      okRedis{},
			Pool:     failingPing{},
		},
	}))
	t.Cleanup(func() {
		srv.Close()
		_ = sched.Shutdown(context.Background())
	})
	return &testServer{Server: srv, store: store, sched: sched}
}

func multipartBody(t *testing.T, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, body := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(body))
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestPostBatchSync(t *testing.T) {
	ts := newTestServer(t, 2)

	body, ct := multipartBody(t,
		map[string]string{"a.mp4": "aaaa", "b.mp4": "bbbb", "c.mp4": "cccc"},
		map[string]string{"variant_count": "2", "manifest_format": "scheduler"},
	)
	resp, err := http.Post(ts.URL+"/v1/batches", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}

	var out struct {
		Job struct {
			ID        string `json:"job_id"`
			Status    string `json:"status"`
			Progress  int    `json:"progress"`
			Successes int    `json:"successes"`
		} `json:"job"`
		Results   []pipeline.Result `json:"results"`
		Manifests []struct {
			Variant int `json:"variant"`
		} `json:"manifests"`
	}
	decode(t, resp, &out)

	if out.Job.Status != "done" || out.Job.Progress != 100 || out.Job.Successes != 6 {
		t.Errorf("unexpected job %+v", out.Job)
	}
	if len(out.Results) != 6 || len(out.Manifests) != 2 {
		t.Errorf("expected 6 results and 2 manifests, got %d/%d", len(out.Results), len(out.Manifests))
	}
	if got := len(ts.store.Keys("outputs/" + out.Job.ID + "/")); got != 6 {
		t.Errorf("expected 6 published outputs, got %d", got)
	}

	// manifest download
	resp, err = http.Get(fmt.Sprintf("%s/v1/batches/%s/manifests/2", ts.URL, out.Job.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for manifest, got %d", resp.StatusCode)
	}
	m, err := manifest.Parse(resp.Body)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if m.Format != manifest.FormatScheduler || len(m.Rows) != 3 {
		t.Errorf("unexpected manifest %+v", m)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
}

func TestPostBatchValidation(t *testing.T) {
	ts := newTestServer(t, 1)

	tests := []struct {
		name   string
		files  map[string]string
		fields map[string]string
	}{
		{"no files", nil, map[string]string{"variant_count": "1"}},
		{"bad variant count", map[string]string{"a.mp4": "a"}, map[string]string{"variant_count": "many"}},
		{"too many variants", map[string]string{"a.mp4": "a"}, map[string]string{"variant_count": "9"}},
		{"unknown level", map[string]string{"a.mp4": "a"}, map[string]string{"level": "extreme"}},
		{"empty file", map[string]string{"a.mp4": ""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.files, tt.fields)
			resp, err := http.Post(ts.URL+"/v1/batches", ct, body)
			if err != nil {
				t.Fatal(err)
			}
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			decode(t, resp, &env)
			if resp.StatusCode != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", resp.StatusCode, env.Error.Code)
			}
		})
	}
}

func TestUploadThenAsyncBatch(t *testing.T) {
	ts := newTestServer(t, 1)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "clip.mp4")
	_, _ = fw.Write([]byte("source-bytes"))
	_ = mw.Close()

	resp, err := http.Post(ts.URL+"/v1/uploads", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var up struct {
		Path string `json:"path"`
	}
	decode(t, resp, &up)
	if !strings.HasPrefix(up.Path, "uploads/") || !strings.HasSuffix(up.Path, ".mp4") {
		t.Fatalf("unexpected upload path %q", up.Path)
	}

	payload := fmt.Sprintf(`{"paths":[%q],"options":{"variant_count":2}}`, up.Path)
	resp, err = http.Post(ts.URL+"/v1/batches/async", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var queued struct {
		JobID string `json:"job_id"`
	}
	decode(t, resp, &queued)

	deadline := time.Now().Add(5 * time.Second)
	var snap batch.Snapshot
	for time.Now().Before(deadline) {
		resp, err = http.Get(ts.URL + "/v1/batches/" + queued.JobID)
		if err != nil {
			t.Fatal(err)
		}
		decode(t, resp, &snap)
		if snap.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.Status != batch.StatusDone || len(snap.Results) != 2 {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}

	resp, err = http.Get(ts.URL + "/v1/batches")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Jobs []struct {
			ID string `json:"job_id"`
		} `json:"jobs"`
	}
	decode(t, resp, &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != queued.JobID {
		t.Errorf("unexpected job list %+v", list.Jobs)
	}
}

func TestAsyncBatchRejectsBadBody(t *testing.T) {
	ts := newTestServer(t, 1)

	for _, body := range []string{`{"paths":[]}`, `{"paths":["../etc/passwd"]}`, `nope`} {
		resp, err := http.Post(ts.URL+"/v1/batches/async", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestNotFoundRoutes(t *testing.T) {
	ts := newTestServer(t, 1)

	for _, path := range []string{"/v1/batches/missing", "/v1/batches/missing/manifests/1"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/batches/missing/manifests/zero")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad variant, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 3)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var basic map[string]any
	decode(t, resp, &basic)
	if basic["status"] != "ok" || basic["max_concurrent_jobs"] != float64(3) {
		t.Errorf("unexpected health %v", basic)
	}

	resp, err = http.Get(ts.URL + "/health?deep=true")
	if err != nil {
		t.Fatal(err)
	}
	var deep struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	decode(t, resp, &deep)
	if deep.Status != "degraded" {
		t.Errorf("expected degraded with postgres down, got %s", deep.Status)
	}
	if deep.Checks["redis"]["status"] != "ok" || deep.Checks["storage"]["provider"] != "memory" {
		t.Errorf("unexpected checks %v", deep.Checks)
	}
}

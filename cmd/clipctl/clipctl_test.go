package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipmill/internal/app"
	"clipmill/internal/batch"
	"clipmill/internal/manifest"
	"clipmill/internal/pipeline"
	"clipmill/internal/transform"
)

type copyTransformer struct{}

func (copyTransformer) Name() string { return "copy" }

func (copyTransformer) Transform(ctx context.Context, req transform.Request) error {
	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, data, 0o644)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRunCommand(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "")
	prev := engineOptions
	engineOptions = app.Options{Transformer: copyTransformer{}, Salt: 3}
	t.Cleanup(func() { engineOptions = prev })

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"one.mp4", "two.mp4"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("video "+name), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, p)
	}
	out := filepath.Join(dir, "out")

	stdout, err := runCLI(t, append([]string{"run", "--variants", "2", "--format", "scheduler", "--out", out}, files...)...)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stdout)
	}
	if !strings.Contains(stdout, ": done (100%, 4/4)") {
		t.Errorf("unexpected header:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Manifest variant 2: 2 rows") {
		t.Errorf("expected manifest summary:\n%s", stdout)
	}

	manifests, _ := filepath.Glob(filepath.Join(out, "manifests", "*", "variant-*.csv"))
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifest files, got %v", manifests)
	}
	f, err := os.Open(manifests[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	m, err := manifest.Parse(f)
	if err != nil {
		t.Fatal(err)
	}
	if m.Format != manifest.FormatScheduler || len(m.Rows) != 2 {
		t.Errorf("unexpected manifest %+v", m)
	}

	outputs, _ := filepath.Glob(filepath.Join(out, "outputs", "*", "v*", "*.mp4"))
	if len(outputs) != 4 {
		t.Errorf("expected 4 outputs, got %d", len(outputs))
	}
}

func TestRunCommandRejectsMissingFile(t *testing.T) {
	_, err := runCLI(t, "run", "--out", t.TempDir(), filepath.Join(t.TempDir(), "nope.mp4"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	snap := batch.Snapshot{
		ID:       "job-42",
		Status:   batch.StatusDone,
		Progress: 100,
		Total:    2,
		Results: []pipeline.Result{
			{Variant: 1, Ordinal: 0, SourceName: "a.mp4", DestinationURL: "https://cdn.test/a.mp4"},
		},
		Errors: []batch.ItemError{
			{Variant: 1, Ordinal: 1, SourceName: "b.mp4", Stage: "transform", Message: "exit status 1\nmore"},
		},
	}
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if !strings.HasSuffix(r.URL.Path, "/job-42") {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	out, err := runCLI(t, "status", "--api", srv.URL, "job-42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if gotPath != "/v1/batches/job-42" {
		t.Errorf("unexpected path %s", gotPath)
	}
	for _, want := range []string{"job-42: done", "https://cdn.test/a.mp4", "failed (transform)", "exit status 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more") {
		t.Error("expected only the first line of the failure message")
	}

	if _, err := runCLI(t, "status", "--api", srv.URL, "other"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 error, got %v", err)
	}
}

func TestCallbackHandler(t *testing.T) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	h := callbackHandler("s1", codeCh, errCh)

	q := url.Values{"state": {"s1"}, "code": {"abc"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+q.Encode(), nil))
	if rec.Code != http.StatusOK || <-codeCh != "abc" {
		t.Errorf("expected code to be delivered, status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=wrong", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad state, got %d", rec.Code)
	}
	if err := <-errCh; err == nil {
		t.Error("expected state error")
	}
}

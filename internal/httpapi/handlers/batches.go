package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clipmill/internal/batch"
	"clipmill/internal/httpkit"
	"clipmill/internal/manifest"
	"clipmill/internal/pipeline"
	"clipmill/internal/pkg/errors"

	"github.com/go-chi/chi/v5"
)

// PostBatch runs a multipart batch synchronously and answers with the final
// job state.
func (h *Handler) PostBatch(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return errors.ValidationField("files", "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	items, err := readItems(r.MultipartForm.File["files"])
	if err != nil {
		return err
	}
	opts, err := optionsFromForm(r)
	if err != nil {
		return err
	}

	snap, err := h.batches.Submit(ctx, items, opts)
	if err != nil {
		// el cliente se fue; el job sigue y se puede consultar
		if snap.ID != "" && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
			httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"job_id": snap.ID, "status": snap.Status})
			return nil
		}
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"job":       summarize(snap),
		"results":   snap.Results,
		"errors":    snap.Errors,
		"manifests": snap.Manifests,
	})
	return nil
}

type asyncRequest struct {
	Paths   []string      `json:"paths"`
	Options batch.Options `json:"options"`
}

// PostBatchAsync queues a batch of previously uploaded objects.
func (h *Handler) PostBatchAsync(w http.ResponseWriter, r *http.Request) error {
	var req asyncRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "batches.async", "invalid json body")
	}
	if len(req.Paths) == 0 {
		return errors.ValidationField("paths", "at least one path is required")
	}

	jobID, err := h.batches.SubmitByReference(r.Context(), req.Paths, req.Options)
	if err != nil {
		return err
	}

	w.Header().Set("Location", "/v1/batches/"+jobID)
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": batch.StatusQueued,
	})
	return nil
}

type jobSummary struct {
	ID         string       `json:"job_id"`
	Status     batch.Status `json:"status"`
	Progress   int          `json:"progress"`
	Completed  int          `json:"completed"`
	Total      int          `json:"total"`
	Successes  int          `json:"successes"`
	Failures   int          `json:"failures"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

func summarize(s batch.Snapshot) jobSummary {
	return jobSummary{
		ID:         s.ID,
		Status:     s.Status,
		Progress:   s.Progress,
		Completed:  s.Completed,
		Total:      s.Total,
		Successes:  s.Successes(),
		Failures:   len(s.Errors),
		Error:      s.Error,
		CreatedAt:  s.CreatedAt,
		FinishedAt: s.FinishedAt,
	}
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) error {
	jobs := h.batches.Jobs()
	items := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, summarize(j))
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": items})
	return nil
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) error {
	snap, err := h.batches.Status(chi.URLParam(r, "jobId"))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, snap)
	return nil
}

// GetManifest downloads the CSV manifest of one variant of a finished job.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) error {
	jobID := chi.URLParam(r, "jobId")
	raw := chi.URLParam(r, "variant")

	variant, err := strconv.Atoi(raw)
	if err != nil || variant < 1 {
		return errors.ValidationField("variant", "variant must be a positive integer")
	}

	snap, err := h.batches.Status(jobID)
	if err != nil {
		return err
	}
	m, ok := snap.Manifest(variant)
	if !ok {
		return errors.NotFound("manifest", fmt.Sprintf("%s/%d", jobID, variant))
	}

	httpkit.WriteCSV(w, fmt.Sprintf("%s-variant-%d.csv", jobID, variant), []byte(m.CSV()))
	return nil
}

func readItems(files []*multipart.FileHeader) ([]pipeline.Item, error) {
	if len(files) == 0 {
		return nil, errors.ValidationField("files", "at least one file is required")
	}

	items := make([]pipeline.Item, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeValidation, "batches.read", "cannot open "+fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeValidation, "batches.read", "cannot read "+fh.Filename)
		}

		items = append(items, pipeline.Item{
			ID:          fmt.Sprintf("item-%d", i),
			Name:        fh.Filename,
			Ordinal:     i,
			Data:        data,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}
	return items, nil
}

func optionsFromForm(r *http.Request) (batch.Options, error) {
	var opts batch.Options

	if v := strings.TrimSpace(r.FormValue("variant_count")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.ValidationField("variant_count", "variant_count must be an integer")
		}
		opts.VariantCount = n
	}
	if v := strings.TrimSpace(r.FormValue("no_caption")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.ValidationField("no_caption", "no_caption must be a boolean")
		}
		opts.NoCaption = b
	}
	opts.Theme = strings.TrimSpace(r.FormValue("theme"))
	opts.Level = strings.TrimSpace(r.FormValue("level"))
	opts.ManifestFormat = manifest.Format(strings.TrimSpace(r.FormValue("manifest_format")))
	opts.AccountPrefix = strings.TrimSpace(r.FormValue("account_prefix"))

	if v := strings.TrimSpace(r.FormValue("schedule_start")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errors.ValidationField("schedule_start", "schedule_start must be RFC3339")
		}
		opts.ScheduleStart = t
	}
	if v := strings.TrimSpace(r.FormValue("schedule_interval_minutes")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.ValidationField("schedule_interval_minutes", "schedule_interval_minutes must be an integer")
		}
		opts.ScheduleIntervalMinutes = n
	}
	return opts, nil
}

package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRenderer delegates the transformation to a remote renderer service
// sharing the filesystem (or object store) with this process.
type HTTPRenderer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *HTTPRenderer) Name() string { return "http" }

// RenderSpec is the JSON body posted to {base}/render.
type RenderSpec struct {
	JobID        string `json:"job_id"`
	Ordinal      int    `json:"ordinal"`
	InputPath    string `json:"input_path"`
	OutputPath   string `json:"output_path"`
	VideoFilter  string `json:"video_filter"`
	AudioFilter  string `json:"audio_filter"`
	CRF          int    `json:"crf"`
	Preset       string `json:"preset"`
	CreationTime string `json:"creation_time"`
}

func (c *HTTPRenderer) Transform(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	return c.post(ctx, "/render", RenderSpec{
		JobID:        req.JobID,
		Ordinal:      req.Params.Ordinal,
		InputPath:    req.InputPath,
		OutputPath:   req.OutputPath,
		VideoFilter:  req.Params.VideoFilter(),
		AudioFilter:  req.Params.AudioFilter(),
		CRF:          req.Params.CRF,
		Preset:       req.Params.Preset,
		CreationTime: req.creationTime(),
	})
}

func (c *HTTPRenderer) post(ctx context.Context, path string, spec any) error {
	body, err := json.Marshal(spec)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, maxDiagnostic))
		return fmt.Errorf("renderer http %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

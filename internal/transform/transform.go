// Package transform invokes the transformation tool that turns one source
// file into one diversified output file.
package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clipmill/internal/config"
	"clipmill/internal/params"
	"clipmill/internal/pkg/errors"
	"clipmill/internal/pkg/logger"
)

// Request describes one transformation.
type Request struct {
	JobID      string
	InputPath  string
	OutputPath string
	Params     params.Params
	// BaseTime anchors the synthetic creation_time; zero means now.
	BaseTime time.Time
}

func (r Request) validate() error {
	if strings.TrimSpace(r.InputPath) == "" {
		return fmt.Errorf("input path is required")
	}
	if strings.TrimSpace(r.OutputPath) == "" {
		return fmt.Errorf("output path is required")
	}
	return nil
}

func (r Request) creationTime() string {
	base := r.BaseTime
	if base.IsZero() {
		base = time.Now()
	}
	return r.Params.CreationTime(base)
}

// Transformer produces a playable file at OutputPath or returns the tool's
// diagnostic output as the error.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, req Request) error
}

// New selects the backend configured in [transform].
func New(cfg config.Transform, log *logger.Logger) (Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "ffmpeg":
		return NewFFmpeg(WithBinary(cfg.FFmpegPath), WithLogger(log)), nil
	case "http":
		if strings.TrimSpace(cfg.RendererURL) == "" {
			return nil, errors.ValidationField("transform.renderer_url", "required for the http backend")
		}
		return NewHTTPRenderer(cfg.RendererURL), nil
	default:
		return nil, errors.ValidationField("transform.backend", "unknown transform backend: "+cfg.Backend)
	}
}

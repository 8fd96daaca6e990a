package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"clipmill/internal/pkg/logger"
)

var commandContext = exec.CommandContext

// maxDiagnostic bounds the tool output kept in an error.
const maxDiagnostic = 2000

// FFmpeg runs the ffmpeg executable. The primary invocation applies the full
// audio filter chain; if it fails, one fallback re-encodes the audio plainly.
type FFmpeg struct {
	binary string
	log    *logger.Logger
}

type Option func(*FFmpeg)

func WithBinary(path string) Option {
	return func(f *FFmpeg) {
		if strings.TrimSpace(path) != "" {
			f.binary = path
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(f *FFmpeg) {
		if log != nil {
			f.log = log
		}
	}
}

func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{binary: "ffmpeg", log: logger.NewDefault()}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithComponent("ffmpeg")
	return f
}

func (f *FFmpeg) Name() string { return "ffmpeg" }

func (f *FFmpeg) Transform(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	err := f.run(ctx, f.primaryArgs(req))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	f.log.Warn("primary encode failed, retrying with plain audio",
		"job_id", req.JobID,
		"ordinal", req.Params.Ordinal,
		"error", err,
	)
	_ = os.Remove(req.OutputPath)

	if ferr := f.run(ctx, f.fallbackArgs(req)); ferr != nil {
		return fmt.Errorf("fallback encode failed: %w (primary: %v)", ferr, err)
	}
	return nil
}

func (f *FFmpeg) commonArgs(req Request) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", req.InputPath,
		"-map_metadata", "-1",
		"-vf", req.Params.VideoFilter(),
		"-c:v", "libx264",
		"-crf", strconv.Itoa(req.Params.CRF),
		"-preset", req.Params.Preset,
	}
}

func (f *FFmpeg) tailArgs(req Request) []string {
	return []string{
		"-metadata", "creation_time=" + req.creationTime(),
		"-movflags", "+faststart",
		req.OutputPath,
	}
}

func (f *FFmpeg) primaryArgs(req Request) []string {
	args := f.commonArgs(req)
	args = append(args,
		"-map", "0:v:0", "-map", "0:a:0",
		"-af", req.Params.AudioFilter(),
		"-c:a", "aac", "-b:a", "128k",
	)
	return append(args, f.tailArgs(req)...)
}

// fallbackArgs drops the audio filters and tolerates inputs without audio.
func (f *FFmpeg) fallbackArgs(req Request) []string {
	args := f.commonArgs(req)
	args = append(args,
		"-map", "0:v:0", "-map", "0:a?",
		"-c:a", "aac",
	)
	return append(args, f.tailArgs(req)...)
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(out.String(), maxDiagnostic))
	}
	return nil
}

// CheckFFmpeg verifies the binary can be executed.
func CheckFFmpeg(ctx context.Context, binary string) error {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	out, err := commandContext(ctx, binary, "-hide_banner", "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg not usable at %q: %w: %s", binary, err, tail(string(out), 200))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

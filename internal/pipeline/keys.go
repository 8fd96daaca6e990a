package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"clipmill/internal/pkg/errors"
)

// OutputKey is the storage key of a transformed item. It is stable for a
// given (job, variant, ordinal), so retried uploads overwrite.
func OutputKey(jobID string, variant, ordinal int, name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return fmt.Sprintf("outputs/%s/v%d/%d-%s.mp4", SanitizeName(jobID), variant, ordinal, SanitizeName(base))
}

// SanitizeName strips path separators and traversal from a user-supplied name.
func SanitizeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" || s == "." {
		return "item"
	}
	return s
}

// inputExt keeps the source extension so the tool can detect the container.
func inputExt(it Item) string {
	if ext := filepath.Ext(it.Name); ext != "" && len(ext) <= 6 {
		return strings.ToLower(ext)
	}
	switch strings.ToLower(it.ContentType) {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".mp4"
	}
}

func stageError(stage string, err error) error {
	return errors.StageFailed(stage, err)
}

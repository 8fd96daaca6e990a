package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"clipmill/internal/httpkit"
	"clipmill/internal/pkg/errors"
	"clipmill/internal/ports"

	"github.com/google/uuid"
)

// PostUpload stores one source file and returns the path to reference it
// from an async batch.
func (h *Handler) PostUpload(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return errors.ValidationField("file", "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return errors.ValidationField("file", "file is required")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = guessExt(header.Header.Get("Content-Type"))
	}
	objectKey := fmt.Sprintf("uploads/%s%s", uuid.NewString(), ext)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      file,
		Size:        header.Size,
	})
	if err != nil {
		return errors.Wrap(err, "uploads.put", "storage put failed")
	}

	h.log.FromContext(ctx).Info("source uploaded", "path", out.ObjectKey, "size", out.Size, "provider", h.sp.Provider())
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{
		"path":         out.ObjectKey,
		"name":         header.Filename,
		"size_bytes":   out.Size,
		"content_type": contentType,
	})
	return nil
}

func guessExt(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}

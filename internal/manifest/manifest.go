// Package manifest builds the per-variant export tables consumed by
// downstream scheduling tools.
package manifest

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"clipmill/internal/pkg/errors"
)

// Format selects the column set.
type Format string

const (
	// FormatBasic has two columns: text and media URL.
	FormatBasic Format = "basic"
	// FormatScheduler adds scheduling metadata.
	FormatScheduler Format = "scheduler"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatBasic:
		return FormatBasic, nil
	case FormatScheduler:
		return FormatScheduler, nil
	default:
		return "", errors.ValidationField("manifest_format", "unknown manifest format: "+s)
	}
}

// Columns returns the header row for the format.
func (f Format) Columns() []string {
	if f == FormatScheduler {
		return []string{"text", "media_url", "hashtags", "publish_at", "account"}
	}
	return []string{"text", "media_url"}
}

// Row is one successful (item, variant) result.
type Row struct {
	Text      string    `json:"text"`
	MediaURL  string    `json:"media_url"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	PublishAt time.Time `json:"publish_at,omitzero"`
	Account   string    `json:"account,omitempty"`
}

// Manifest is the ordered table of one variant.
type Manifest struct {
	Variant int    `json:"variant"`
	Format  Format `json:"format"`
	Rows    []Row  `json:"rows"`
	// URL is the published CSV, when the upload succeeded.
	URL string `json:"url,omitempty"`
}

func (m Manifest) record(r Row) []string {
	rec := []string{r.Text, r.MediaURL}
	if m.Format != FormatScheduler {
		return rec
	}
	publishAt := ""
	if !r.PublishAt.IsZero() {
		publishAt = r.PublishAt.UTC().Format(time.RFC3339)
	}
	return append(rec, strings.Join(r.Hashtags, " "), publishAt, r.Account)
}

// WriteCSV writes the header and rows, one record per line, CRLF-free.
func (m Manifest) WriteCSV(w io.Writer) error {
	var b strings.Builder
	writeLine(&b, m.Format.Columns())
	for _, r := range m.Rows {
		writeLine(&b, m.record(r))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// CSV renders the manifest to a string.
func (m Manifest) CSV() string {
	var b strings.Builder
	_ = m.WriteCSV(&b)
	return b.String()
}

func writeLine(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteField(f))
	}
	b.WriteByte('\n')
}

// quoteField quotes s when it contains a separator, quote, CR or LF,
// doubling inner quotes. WriteCSV encodes every field through it, so any
// text survives Parse unchanged.
func quoteField(s string) string {
	if !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// EscapeField is quoteField for callers that may hand in a field that was
// already escaped: a complete quoted field is returned unchanged, so
// escaping twice is the same as escaping once.
func EscapeField(s string) string {
	if isQuoted(s) {
		return s
	}
	return quoteField(s)
}

// UnescapeField reverses EscapeField. Unquoted input is returned unchanged.
func UnescapeField(s string) string {
	if !isQuoted(s) {
		return s
	}
	return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
}

// isQuoted reports whether s is a complete quoted field: wrapped in quotes
// with every inner quote doubled.
func isQuoted(s string) bool {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return false
	}
	inner := strings.ReplaceAll(s[1:len(s)-1], `""`, "")
	return !strings.Contains(inner, `"`)
}

// Parse reads a manifest written by WriteCSV. The format is inferred from
// the header.
func Parse(r io.Reader) (Manifest, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return Manifest{}, errors.WrapWithCode(err, errors.CodeValidation, "manifest.Parse", "malformed manifest")
	}
	if len(records) == 0 {
		return Manifest{}, errors.Validation("manifest has no header")
	}

	m := Manifest{Format: FormatBasic}
	if len(records[0]) == len(FormatScheduler.Columns()) {
		m.Format = FormatScheduler
	}
	want := len(m.Format.Columns())

	for i, rec := range records[1:] {
		if len(rec) != want {
			return Manifest{}, errors.Validationf("manifest row %d has %d fields, want %d", i+1, len(rec), want)
		}
		row := Row{Text: rec[0], MediaURL: rec[1]}
		if m.Format == FormatScheduler {
			if rec[2] != "" {
				row.Hashtags = strings.Fields(rec[2])
			}
			if rec[3] != "" {
				t, err := time.Parse(time.RFC3339, rec[3])
				if err != nil {
					return Manifest{}, errors.Validationf("manifest row %d: bad publish_at %q", i+1, rec[3])
				}
				row.PublishAt = t
			}
			row.Account = rec[4]
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

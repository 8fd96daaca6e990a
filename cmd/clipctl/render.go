package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"clipmill/internal/batch"
)

// renderSnapshot prints the job header followed by one row per pair.
func renderSnapshot(w io.Writer, snap batch.Snapshot) {
	fmt.Fprintf(w, "Job %s: %s (%d%%, %d/%d)\n", snap.ID, snap.Status, snap.Progress, snap.Completed, snap.Total)
	if snap.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", snap.Error)
	}

	rows := make([][]string, 0, len(snap.Results)+len(snap.Errors))
	for _, r := range snap.Results {
		rows = append(rows, []string{
			strconv.Itoa(r.Variant),
			strconv.Itoa(r.Ordinal),
			r.SourceName,
			"ok",
			r.DestinationURL,
		})
	}
	for _, e := range snap.Errors {
		rows = append(rows, []string{
			strconv.Itoa(e.Variant),
			strconv.Itoa(e.Ordinal),
			e.SourceName,
			"failed (" + e.Stage + ")",
			firstLine(e.Message),
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable(
			[]string{"Variant", "Item", "Source", "Result", "Output"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
		))
	}

	for _, m := range snap.Manifests {
		where := m.URL
		if where == "" {
			where = "(not uploaded)"
		}
		fmt.Fprintf(w, "Manifest variant %d: %d rows, %s\n", m.Variant, len(m.Rows), where)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

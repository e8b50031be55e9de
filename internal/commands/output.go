package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// render writes v as JSON or as the table produced by rows.
func (a *app) render(w io.Writer, v any, headers []string, rows func() [][]string) error {
	if a.format == "json" {
		return writeJSON(w, v)
	}
	return writeTable(w, headers, rows())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

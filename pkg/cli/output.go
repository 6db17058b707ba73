// Package cli provides output formatting for the modelguard command.
// Log queries render as JSON for scripting, or as CSV and aligned text
// tables for people.
package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	// FormatJSON is indented JSON, the default.
	FormatJSON OutputFormat = "json"
	// FormatText is an aligned text table.
	FormatText OutputFormat = "text"
	// FormatCSV is comma-separated rows with a header line.
	FormatCSV OutputFormat = "csv"
)

// ParseFormat validates a format name. An empty name means JSON.
func ParseFormat(name string) (OutputFormat, error) {
	switch OutputFormat(name) {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText, FormatCSV:
		return OutputFormat(name), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, text, or csv)", name)
	}
}

// Table is row-oriented command output for the text and CSV renderers.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Formatter renders command output in one format.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// NewFormatter returns the formatter for a format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatCSV:
		return &CSVFormatter{}
	case FormatText:
		return &TextFormatter{}
	default:
		return &JSONFormatter{Indent: true}
	}
}

// JSONFormatter renders any value as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data as JSON.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if f.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// CSVFormatter renders a table as CSV with a header line.
type CSVFormatter struct{}

// FormatTo writes the table as CSV. data must be a *Table.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := data.(*Table)
	if !ok {
		return fmt.Errorf("csv output requires tabular data, got %T", data)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(table.Headers); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// TextFormatter renders a table with aligned columns. Non-tabular data
// falls back to its default string form.
type TextFormatter struct{}

// FormatTo writes the data as aligned text.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := data.(*Table)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeRow(tw, table.Headers)
	for _, row := range table.Rows {
		writeRow(tw, row)
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, cell)
	}
	fmt.Fprintln(w)
}

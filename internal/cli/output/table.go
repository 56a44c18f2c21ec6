package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// TableFormatter renders aligned columns for humans.
type TableFormatter struct {
	NoColor bool
	// Plain forces the condensed layout used when stdout is not a terminal.
	Plain bool
}

// Format falls back to Go's default formatting; callers with tabular data
// use FormatTable.
func (f *TableFormatter) Format(data interface{}) (string, error) {
	return fmt.Sprintf("%v\n", data), nil
}

func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	if f.rich() {
		fmt.Fprintf(&buf, "%s\n", f.bold(fmt.Sprintf("Error [%s]", err.Code)))
	} else {
		buf.WriteString("Error: ")
	}
	fmt.Fprintf(&buf, "%s\n", err.Message)
	if err.Guidance != "" {
		fmt.Fprintf(&buf, "  Guidance: %s\n", err.Guidance)
	}
	if err.RecoveryCommand != "" {
		fmt.Fprintf(&buf, "  Try: %s\n", err.RecoveryCommand)
	}
	return buf.String(), nil
}

func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if f.rich() {
		rules := make([]string, len(headers))
		for i, h := range headers {
			rules[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(w, strings.Join(rules, "\t"))
	}
	for _, row := range rows {
		cells := make([]string, len(headers))
		copy(cells, row)
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *TableFormatter) rich() bool {
	return !f.Plain && term.IsTerminal(int(os.Stdout.Fd()))
}

func (f *TableFormatter) bold(s string) string {
	if f.NoColor {
		return s
	}
	return "\x1b[1m" + s + "\x1b[0m"
}

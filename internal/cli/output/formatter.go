// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"fmt"
	"os"
	"strings"
)

// EnvOutput selects the default output format.
const EnvOutput = "TOOLHOST_OUTPUT"

// Formatter renders command results.
type Formatter interface {
	// Format renders an arbitrary value.
	Format(data interface{}) (string, error)

	FormatError(err StructuredError) (string, error)

	// FormatTable renders rows under headers. Row cells beyond the header
	// count are dropped and missing cells render empty.
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter returns the formatter for format (table, json or yaml).
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml", "yml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return &TableFormatter{NoColor: os.Getenv("NO_COLOR") != ""}, nil
	default:
		return nil, NewStructuredError(ErrCodeInvalidOutputFormat,
			fmt.Sprintf("unknown output format: %s (valid: table, json, yaml)", format))
	}
}

// ResolveFormat picks the output format: the --json alias, then the
// explicit flag, then TOOLHOST_OUTPUT, then table.
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return "json"
	}
	if outputFlag != "" {
		return outputFlag
	}
	if env := os.Getenv(EnvOutput); env != "" {
		return env
	}
	return "table"
}

// rowsToMaps turns a table into one map per row keyed by header.
func rowsToMaps(headers []string, rows [][]string) []map[string]string {
	result := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}
	return result
}

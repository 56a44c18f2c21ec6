package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format string
		want   interface{}
	}{
		{"json", &JSONFormatter{}},
		{"JSON", &JSONFormatter{}},
		{"yaml", &YAMLFormatter{}},
		{"yml", &YAMLFormatter{}},
		{"table", &TableFormatter{}},
		{"", &TableFormatter{}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}

	_, err := NewFormatter("xml")
	require.Error(t, err)
	var se StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeInvalidOutputFormat, se.Code)
}

func TestResolveFormat(t *testing.T) {
	t.Setenv(EnvOutput, "yaml")

	assert.Equal(t, "json", ResolveFormat("table", true))
	assert.Equal(t, "table", ResolveFormat("table", false))
	assert.Equal(t, "yaml", ResolveFormat("", false))

	t.Setenv(EnvOutput, "")
	assert.Equal(t, "table", ResolveFormat("", false))
}

func TestFormatTableStructured(t *testing.T) {
	headers := []string{"ID", "KIND"}
	rows := [][]string{{"com.example.notes", "http-service"}, {"com.example.short"}}

	out, err := (&JSONFormatter{}).FormatTable(headers, rows)
	require.NoError(t, err)
	var fromJSON []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &fromJSON))
	require.Len(t, fromJSON, 2)
	assert.Equal(t, "http-service", fromJSON[0]["KIND"])
	assert.Equal(t, "", fromJSON[1]["KIND"])

	out, err = (&YAMLFormatter{}).FormatTable(headers, rows)
	require.NoError(t, err)
	var fromYAML []map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	assert.Equal(t, fromJSON, fromYAML)
}

func TestTableFormatterPlain(t *testing.T) {
	f := &TableFormatter{Plain: true}

	out, err := f.FormatTable([]string{"ID", "STATUS"}, [][]string{
		{"com.example.notes", "running"},
		{"x", "stopped", "ignored"},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	// Columns are aligned on the widest cell.
	assert.Equal(t, strings.Index(lines[1], "running"), strings.Index(lines[2], "stopped"))
	assert.NotContains(t, out, "ignored")

	out, err = f.FormatTable([]string{"ID"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No results found\n", out)
}

func TestTableFormatterError(t *testing.T) {
	f := &TableFormatter{Plain: true}
	se := NewStructuredError(ErrCodeToolNotFound, "tool foo not found").
		WithGuidance("run toolhost list to see known tools").
		WithRecoveryCommand("toolhost list")

	out, err := f.FormatError(se)
	require.NoError(t, err)
	assert.Contains(t, out, "Error: tool foo not found")
	assert.Contains(t, out, "Guidance: run toolhost list")
	assert.Contains(t, out, "Try: toolhost list")
}

func TestStructuredErrorHelpers(t *testing.T) {
	base := NewStructuredError(ErrCodeLaunchFailed, "boom")
	withCtx := base.WithContext("tool", "a")
	assert.Nil(t, base.Context)
	assert.Equal(t, "a", withCtx.Context["tool"])

	assert.Equal(t, withCtx, FromError(withCtx, ErrCodeOperationFailed))
	plain := FromError(errors.New("disk full"), ErrCodeOperationFailed)
	assert.Equal(t, ErrCodeOperationFailed, plain.Code)
	assert.Equal(t, "disk full", plain.Message)
}

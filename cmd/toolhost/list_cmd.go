package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/booltox/toolhost/internal/cli/output"
	"github.com/booltox/toolhost/internal/registry"
)

type listedTool struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Version  string          `json:"version,omitempty" yaml:"version,omitempty"`
	Kind     string          `json:"kind" yaml:"kind"`
	Protocol string          `json:"protocol" yaml:"protocol"`
	Path     string          `json:"path" yaml:"path"`
	Source   registry.Source `json:"source" yaml:"source"`
	Dev      bool            `json:"dev" yaml:"dev"`
}

type listedRejection struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

type listResult struct {
	Tools    []listedTool      `json:"tools" yaml:"tools"`
	Rejected []listedRejection `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Scan the tool directories and list the tools found",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, _ []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	reg := env.registry()
	res := reg.Scan(registry.SourcesFromConfig(env.cfg))
	result := buildListResult(reg.List(), res.Rejected)

	out := cmd.OutOrStdout()
	if _, isTable := f.(*output.TableFormatter); !isTable {
		text, err := f.Format(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}

	headers := []string{"ID", "NAME", "KIND", "PROTOCOL", "SOURCE", "DEV", "PATH"}
	rows := make([][]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		rows = append(rows, []string{t.ID, t.Name, t.Kind, t.Protocol, string(t.Source), strconv.FormatBool(t.Dev), t.Path})
	}
	text, err := f.FormatTable(headers, rows)
	if err != nil {
		return err
	}
	fmt.Fprint(out, text)
	if len(result.Rejected) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d tool(s) rejected:\n", len(result.Rejected))
		for _, r := range result.Rejected {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n    %s\n", r.Path, strings.ReplaceAll(r.Error, "; ", "\n    "))
		}
	}
	return nil
}

func buildListResult(tools []*registry.Tool, rejected []registry.Rejection) listResult {
	res := listResult{Tools: make([]listedTool, 0, len(tools))}
	for _, t := range tools {
		res.Tools = append(res.Tools, listedTool{
			ID:       t.ID,
			Name:     t.Manifest.Name,
			Version:  t.Manifest.Version,
			Kind:     string(t.Manifest.Kind()),
			Protocol: t.Manifest.Protocol,
			Path:     t.Path,
			Source:   t.Source,
			Dev:      t.Dev,
		})
	}
	for _, r := range rejected {
		res.Rejected = append(res.Rejected, listedRejection{Path: r.Path, Error: r.Err.Error()})
	}
	return res
}

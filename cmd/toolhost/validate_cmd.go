package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/booltox/toolhost/internal/cli/output"
	"github.com/booltox/toolhost/internal/config"
	"github.com/booltox/toolhost/internal/manifest"
)

type validateResult struct {
	Valid    bool                  `json:"valid" yaml:"valid"`
	Path     string                `json:"path" yaml:"path"`
	ID       string                `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string                `json:"name,omitempty" yaml:"name,omitempty"`
	Kind     string                `json:"kind,omitempty" yaml:"kind,omitempty"`
	Protocol string                `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Reason   string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error    string                `json:"error,omitempty" yaml:"error,omitempty"`
	Fields   []manifest.FieldError `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <tool-dir|manifest.json>",
		Short: "Check a tool manifest and report every problem found",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	// validate works without a data directory, so a broken config only
	// changes the host protocol version used for the check.
	host := ""
	if cfg, err := config.Load(configFile, cmd.Flags()); err == nil {
		host = cfg.ProtocolVersion
	}

	res := validateManifest(args[0], host)

	out := cmd.OutOrStdout()
	if _, isTable := f.(*output.TableFormatter); isTable {
		printValidateTable(cmd, res)
	} else {
		text, err := f.Format(res)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
	}

	if !res.Valid {
		return &exitError{
			code: ExitCodeInvalidManifest,
			err:  output.NewStructuredError(output.ErrCodeManifestInvalid, "manifest is invalid: "+res.Path),
		}
	}
	return nil
}

func validateManifest(path, hostProtocol string) validateResult {
	res := validateResult{Path: path}
	m, err := manifest.Load(path, manifest.LoadOptions{HostProtocol: hostProtocol})
	if err != nil {
		res.Error = err.Error()
		var merr *manifest.Error
		if errors.As(err, &merr) {
			res.Reason = string(merr.Reason)
			res.Fields = merr.Fields
			if merr.Path != "" {
				res.Path = merr.Path
			}
		}
		return res
	}
	res.Valid = true
	res.ID = m.ID
	res.Name = m.Name
	res.Kind = string(m.Kind())
	res.Protocol = m.Protocol
	return res
}

func printValidateTable(cmd *cobra.Command, res validateResult) {
	out := cmd.OutOrStdout()
	if res.Valid {
		fmt.Fprintf(out, "OK  %s (%s, %s) protocol %s\n", res.ID, res.Name, res.Kind, res.Protocol)
		return
	}
	fmt.Fprintf(out, "INVALID  %s", res.Path)
	if res.Reason != "" {
		fmt.Fprintf(out, " [%s]", res.Reason)
	}
	fmt.Fprintln(out)
	if len(res.Fields) == 0 {
		fmt.Fprintf(out, "  %s\n", res.Error)
		return
	}
	for _, fe := range res.Fields {
		fmt.Fprintf(out, "  - %s: %s\n", fe.Field, fe.Message)
		if fe.Suggestion != "" {
			fmt.Fprintf(out, "      fix: %s\n", fe.Suggestion)
		}
	}
}

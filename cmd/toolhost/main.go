package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/booltox/toolhost/internal/cli/output"
	"github.com/booltox/toolhost/internal/config"
)

var (
	configFile   string
	outputFormat string
	jsonOutput   bool

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "toolhost",
		Short:         "Discover, launch and supervise BoolTox tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Configuration file path (default: <data-dir>/config.json)")
	pf.StringP("data-dir", "d", "", "Data directory path (default: ~/.toolhost)")
	pf.String("tools-dir", "", "Installed tools directory (default: <data-dir>/tools)")
	pf.Bool("dev", false, "Enable dev mode and scan the dev tools directory")
	pf.String("dev-tools-dir", "", "Dev tools directory (default: $"+config.DevToolsDirEnv+")")
	pf.String("examples-dir", "", "Example tools directory")
	pf.String("sdk-path", "", "Path added to PYTHONPATH for standalone tools")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-dir", "", "Custom log directory path")
	pf.StringVarP(&outputFormat, "output", "o", "", "Output format (table, json, yaml)")
	pf.BoolVar(&jsonOutput, "json", false, "Shorthand for --output json")

	rootCmd.AddCommand(
		newServeCmd(),
		newListCmd(),
		newValidateCmd(),
		newLaunchCmd(),
		newToolsCmd(),
		newLogsCmd(),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, &exitError{code: ExitCodeConfigError, err: err}
	}
	return cfg, nil
}

func formatter() (output.Formatter, error) {
	return output.NewFormatter(output.ResolveFormat(outputFormat, jsonOutput))
}

// reportError prints err in the selected output format.
func reportError(cmd *cobra.Command, err error) {
	f, ferr := formatter()
	if ferr != nil {
		f = &output.TableFormatter{}
	}
	se := output.FromError(err, output.ErrCodeOperationFailed)
	var ee *exitError
	if errors.As(err, &ee) {
		if inner, ok := ee.err.(output.StructuredError); ok {
			se = inner
		} else {
			se = output.FromError(ee.err, ee.structuredCode())
		}
	}
	if code := exitCodeFor(err); code != ExitCodeGeneralError {
		se = se.WithContext("exit", exitCodeDescription(code))
	}
	text, _ := f.FormatError(se)
	fmt.Fprint(cmd.ErrOrStderr(), text)
	if text != "" && text[len(text)-1] != '\n' {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
}

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, bolterrors.ErrTimeout) {
		return ExitCodeDBLocked
	}
	return ExitCodeGeneralError
}

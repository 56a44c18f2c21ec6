package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/booltox/toolhost/internal/logs"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <tool-id>",
		Short: "Print the tail of a tool's output log",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	cmd.Flags().IntP("lines", "n", 50, "Number of lines to print (max 500)")
	return cmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	n, _ := cmd.Flags().GetInt("lines")
	lines, err := logs.ReadToolLogTail(cfg.Logging, args[0], n)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

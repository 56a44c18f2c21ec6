package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/storage"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage tools referenced from outside the tool directories",
	}

	addCmd := &cobra.Command{
		Use:   "add <tool-dir>",
		Short: "Reference a local tool directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsAdd,
	}
	addCmd.Flags().String("id", "", "Tool id override (default: the manifest id)")

	removeCmd := &cobra.Command{
		Use:   "remove <tool-id>",
		Short: "Forget a local tool reference",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsRemove,
	}

	cmd.AddCommand(addCmd, removeCmd)
	return cmd
}

func runToolsAdd(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	m, err := manifest.Load(dir, manifest.LoadOptions{HostProtocol: env.cfg.ProtocolVersion})
	if err != nil {
		return &exitError{code: ExitCodeInvalidManifest, err: err}
	}
	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = m.ID
	}
	if err := env.store.SaveToolRef(&storage.ToolRefRecord{ID: id, Path: dir, AddedAt: time.Now()}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", id, dir)
	return nil
}

func runToolsRemove(cmd *cobra.Command, args []string) error {
	env, err := newCommandEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	id := args[0]
	refs, err := env.store.ListToolRefs()
	if err != nil {
		return err
	}
	found := false
	for _, ref := range refs {
		if ref.ID == id {
			found = true
			break
		}
	}
	if !found {
		return &exitError{code: ExitCodeNotFound, err: fmt.Errorf("no local tool reference %s", id)}
	}
	if err := env.store.DeleteToolRef(id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	return nil
}

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syncroom/syncroom/hub/internal/config"
	"github.com/syncroom/syncroom/hub/internal/store"
)

func newProjectCmd() *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects in the session directory",
	}
	projectCmd.AddCommand(newProjectCreateCmd())
	projectCmd.AddCommand(newProjectShowCmd())
	return projectCmd
}

func newProjectCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Seed a project and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			members, _ := cmd.Flags().GetStringSlice("member")

			dir, err := openDirectory(cmd)
			if err != nil {
				return err
			}
			defer dir.Close()

			p := &store.Project{Name: args[0], Members: members}
			if err := dir.CreateProject(cmd.Context(), p); err != nil {
				return fmt.Errorf("create project: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
	cmd.Flags().StringSlice("member", nil, "user id to list as a member (repeatable)")
	return cmd
}

func newProjectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Print a project's members and file paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDirectory(cmd)
			if err != nil {
				return err
			}
			defer dir.Close()

			p, err := dir.FindProject(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("find project: %w", err)
			}
			if p == nil {
				return store.ErrProjectNotFound
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "ID:      %s\n", p.ID)
			_, _ = fmt.Fprintf(out, "Name:    %s\n", p.Name)
			_, _ = fmt.Fprintf(out, "Members: %s\n", strings.Join(p.Members, ", "))
			_, _ = fmt.Fprintf(out, "Files:   %d\n", len(p.FileTree))
			paths := make([]string, 0, len(p.FileTree))
			for path := range p.FileTree {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			for _, path := range paths {
				_, _ = fmt.Fprintf(out, "  %s\n", path)
			}
			return nil
		},
	}
}

func openDirectory(cmd *cobra.Command) (store.Directory, error) {
	cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dir, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return dir, nil
}

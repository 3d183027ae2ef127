package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keynotes-rtc/keynotes/internal/config"
	"github.com/keynotes-rtc/keynotes/internal/ui"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the keynotes config file",
	}

	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		force  bool
		global bool
		dir    string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		Long: `Write ` + config.FileName + ` with every setting at its default value.

By default the file is created in the current directory. With --global it is
created in the per-user config directory instead.

Example usage:
  keynotes config init
  keynotes config init --global --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := dir
			if global {
				d, err := config.UserDir()
				if err != nil {
					return err
				}
				target = d
			}

			path := filepath.Join(target, config.FileName)
			if err := config.WriteDefault(path, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "overwrite an existing config file")
	f.BoolVar(&global, "global", false, "write to the per-user config directory")
	f.StringVar(&dir, "dir", ".", "directory to write the config file to")

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())

			data, err := config.Encode(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.ConfigFile != "" {
				fmt.Fprintf(out, "# loaded from %s\n", cfg.ConfigFile)
			}
			_, err = out.Write(data)
			return err
		},
	}
}

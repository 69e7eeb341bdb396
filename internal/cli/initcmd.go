package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/taskload/internal/loadtest/config"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with every default filled in",
		Long: `Write a YAML config file containing the default load profile, thresholds
and scenario. Without a path the config is printed to stdout.

  taskload init load.yaml
  taskload init > load.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var buf bytes.Buffer
			if err := config.WriteYAML(&buf, config.DefaultConfig()); err != nil {
				return err
			}

			if len(args) == 0 {
				_, err := a.stdout.Write(buf.Bytes())
				return err
			}

			path := args[0]
			if !force {
				if _, err := os.Stat(path); err == nil {
					return exitErrorf(ExitRuntimeError, "%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(a.stdout, "Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

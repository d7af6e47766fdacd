package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-go-golems/threadline/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings (defaults, config file, env and flags)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			defer func() {
				_ = encoder.Close()
			}()
			return encoder.Encode(s)
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the path of the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := viper.ConfigFileUsed()
			if configFile == "" {
				return fmt.Errorf("no config file found")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), configFile)
			return err
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [file]",
		Short: "Write the default settings to a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				configDir, err := os.UserConfigDir()
				if err != nil {
					return errors.Wrap(err, "could not find user config directory")
				}
				path = filepath.Join(configDir, "threadline", "config.yaml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("%s already exists, use --force to overwrite", path)
			}

			data, err := yaml.Marshal(settings.NewSettings())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return errors.Wrapf(err, "could not write %s", path)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

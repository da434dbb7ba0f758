package cli

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eeg-io-engine/internal/config"
	"eeg-io-engine/internal/pipeline"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the effective configuration to a YAML file",
		Long: `Write the configuration resolved from defaults, EEGIO_* environment
variables and flags to path, for later use with --config.`,
		Example: `  eeg-io config init --io-path ./ds eeg-io.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Wrapf(pipeline.ErrConfiguration, "%s already exists; pass --force to overwrite", path)
			}

			cfg, done, err := setup(cmd)
			if err != nil {
				return err
			}
			defer done()

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			log.WithField("path", path).Info("configuration written")
			return printJSON(cmd.OutOrStdout(), map[string]string{"config": path})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

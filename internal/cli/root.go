// Package cli implements the eeg-io command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eeg-io-engine/internal/config"
)

// NewRootCommand returns the eeg-io command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "eeg-io",
		Short: "EEG dataset materialization engine",
		Long: `Materialize raw EEG arrays into an indexed on-disk dataset and read it back.

Settings come from --config (YAML), EEGIO_* environment variables and flags.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a YAML config file")
	pf.String("io-path", "", "dataset directory")
	pf.String("logging-level", "", "log level (trace, debug, info, warn, error)")
	pf.String("logging-format", "", "log format (text, json)")
	pf.String("logging-output", "", "log output (stdout, stderr or a file path)")

	root.AddCommand(
		newBuildCommand(),
		newGetCommand(),
		newStatsCommand(),
		newServeCommand(),
		newConfigCommand(),
	)
	return root
}

func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration for cmd and points the standard logger at
// the configured sink. The returned function releases the log file, if any.
func setup(cmd *cobra.Command) (*config.Config, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	closer, err := cfg.Logging.Apply(log.StandardLogger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { _ = closer.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

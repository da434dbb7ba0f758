package cli

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eeg-io-engine/internal/api"
	"eeg-io-engine/internal/config"
	"eeg-io-engine/internal/pipeline"
)

func openDataset(cfg *config.Config) (*pipeline.Dataset, error) {
	opts := cfg.DatasetOptions()
	opts.Logger = log.StandardLogger()
	return pipeline.OpenDataset(cfg.IOPath, opts)
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <index>",
		Short: "Print the record at index as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrap(pipeline.ErrIndex, "index must be an integer")
			}

			cfg, done, err := setup(cmd)
			if err != nil {
				return err
			}
			defer done()

			ds, err := openDataset(cfg)
			if err != nil {
				return err
			}
			defer ds.Close()

			signal, label, err := ds.Get(index)
			if err != nil {
				return err
			}
			row, err := ds.Row(index)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.NewRecordResponse(index, row.ClipID(), signal, label))
		},
	}
}

type statsOutput struct {
	pipeline.Description
	Manifest *pipeline.Manifest `json:"manifest"`
	Size     string             `json:"size"`
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Describe a materialized dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup(cmd)
			if err != nil {
				return err
			}
			defer done()

			ds, err := openDataset(cfg)
			if err != nil {
				return err
			}
			defer ds.Close()

			manifest, err := pipeline.ReadManifest(cfg.IOPath)
			if err != nil {
				return err
			}
			size, err := dirSize(cfg.IOPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), statsOutput{
				Description: ds.Describe(),
				Manifest:    manifest,
				Size:        humanize.IBytes(uint64(size)),
			})
		},
	}
}

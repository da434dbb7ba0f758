package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eeg-io-engine/internal/metrics"
	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/pipeline"
)

type buildResult struct {
	IOPath  string `json:"io_path"`
	Blocks  int    `json:"blocks"`
	Records uint64 `json:"records"`
	Elapsed string `json:"elapsed"`
	Size    string `json:"size"`
}

func newBuildCommand() *cobra.Command {
	var (
		xPath, yPath  string
		xList, yList  []string
		clearExisting bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Materialize raw EEG arrays into a dataset",
		Example: `  eeg-io build --io-path ./ds --x samples.npy --y labels.npy --num-worker 4
  eeg-io build --io-path ./ds --x-list x0.npy,x1.npy --y-list y0.npy,y1.npy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup(cmd)
			if err != nil {
				return err
			}
			defer done()

			raw, err := rawInput(xPath, yPath, xList, yList)
			if err != nil {
				return err
			}

			opts, err := cfg.BuildOptions()
			if err != nil {
				return err
			}
			opts.Logger = log.StandardLogger()
			if cfg.Metrics.Enabled {
				opts.Metrics = metrics.New(metrics.NewRegistry())
			}

			if clearExisting {
				log.WithField("io_path", opts.IOPath).Info("clearing existing dataset")
				if err := pipeline.Clear(opts.IOPath); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := pipeline.Build(ctx, raw, opts)
			if err != nil {
				return err
			}

			size, err := dirSize(opts.IOPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), buildResult{
				IOPath:  opts.IOPath,
				Blocks:  res.Blocks,
				Records: res.Records,
				Elapsed: res.Elapsed.Round(time.Millisecond).String(),
				Size:    humanize.IBytes(uint64(size)),
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&xPath, "x", "", "sample array file (.npy or .arr), loaded in memory")
	f.StringVar(&yPath, "y", "", "label array file (.npy or .arr), loaded in memory")
	f.StringSliceVar(&xList, "x-list", nil, "pre-split sample array files, one per block")
	f.StringSliceVar(&yList, "y-list", nil, "pre-split label array files, one per block")
	f.BoolVar(&clearExisting, "clear", false, "remove an existing dataset under --io-path first")

	f.String("io-size", "", "signal store capacity, e.g. 10MiB")
	f.String("io-mode", "", "signal store backend (mmap, badger, file)")
	f.String("compression", "", "signal compression (none, zstd)")
	f.Int("num-worker", 0, "parallel executors, 0 runs sequentially")
	f.Int("num-samples-per-worker", 0, "samples per block and per executor lifetime")
	f.Bool("verbose", false, "log progress per block")
	f.Bool("keep-tmp", false, "keep the per-block temporary files")
	return cmd
}

// rawInput loads the array form or passes the path form through. Mixed
// forms are rejected by the pipeline itself.
func rawInput(xPath, yPath string, xList, yList []string) (pipeline.RawDataset, error) {
	var raw pipeline.RawDataset
	if xPath != "" {
		x, err := ndarray.Load(xPath)
		if err != nil {
			return raw, errors.Wrap(err, "load --x")
		}
		raw.X = &x
	}
	if yPath != "" {
		y, err := ndarray.Load(yPath)
		if err != nil {
			return raw, errors.Wrap(err, "load --y")
		}
		raw.Y = &y
	}
	raw.XPaths = xList
	raw.YPaths = yList
	return raw, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, errors.Wrapf(err, "size of %s", root)
}

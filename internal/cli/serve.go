package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eeg-io-engine/internal/api"
	"eeg-io-engine/internal/metrics"
	"eeg-io-engine/internal/pipeline"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a materialized dataset over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup(cmd)
			if err != nil {
				return err
			}
			defer done()

			opts := cfg.DatasetOptions()
			opts.Logger = log.StandardLogger()

			var gatherer prometheus.Gatherer
			if cfg.Metrics.Enabled {
				reg := metrics.NewRegistry()
				opts.Metrics = metrics.New(reg)
				gatherer = reg
			}

			ds, err := pipeline.OpenDataset(cfg.IOPath, opts)
			if err != nil {
				return err
			}
			defer ds.Close()

			log.WithFields(log.Fields{
				"io_path": cfg.IOPath,
				"records": ds.Len(),
				"io_mode": ds.Describe().IOMode,
			}).Info("dataset opened")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.NewServer(ds, gatherer, log.StandardLogger())
			return srv.Start(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
		},
	}

	f := cmd.Flags()
	f.String("server-addr", "", "listen address, e.g. :8080")
	f.Bool("in-memory", false, "load every signal into memory on first read")
	f.Bool("metrics-enabled", true, "expose /metrics")
	return cmd
}

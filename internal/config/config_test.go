package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/pipeline"
	"eeg-io-engine/internal/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EEGIO_IO_PATH", "/data/eeg")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/eeg", cfg.IOPath)
	assert.Equal(t, ByteSize(pipeline.DefaultIOSize), cfg.IOSize)
	assert.Equal(t, "mmap", cfg.IOMode)
	assert.Equal(t, "none", cfg.Compression)
	assert.Equal(t, 0, cfg.NumWorker)
	assert.Equal(t, pipeline.DefaultNumSamplesPerWorker, cfg.NumSamplesPerWorker)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
io_path: /tmp/ds
io_size: 2GiB
io_mode: BADGER
compression: zstd
num_worker: 4
num_samples_per_worker: 250
in_memory: true
logging:
  level: DEBUG
  format: json
server:
  addr: 127.0.0.1:9000
  shutdown_timeout: 3s
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ds", cfg.IOPath)
	assert.Equal(t, ByteSize(2<<30), cfg.IOSize)
	assert.Equal(t, "badger", cfg.IOMode)
	assert.Equal(t, 4, cfg.NumWorker)
	assert.Equal(t, 250, cfg.NumSamplesPerWorker)
	assert.True(t, cfg.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)

	opts, err := cfg.BuildOptions()
	require.NoError(t, err)
	assert.Equal(t, storage.ModeBadger, opts.IOMode)
	assert.Equal(t, ndarray.CompressionZstd, opts.Compression)
	assert.Equal(t, int64(2<<30), opts.IOSize)
	assert.True(t, cfg.DatasetOptions().InMemory)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
io_path: /from/file
num_worker: 1
logging:
  level: info
`)
	t.Setenv("EEGIO_NUM_WORKER", "6")
	t.Setenv("EEGIO_LOGGING_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("io-path", "", "")
	flags.Int("num-worker", 0, "")
	flags.String("io-size", "", "")
	require.NoError(t, flags.Parse([]string{"--io-path", "/from/flag", "--io-size", "64 MB"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/from/flag", cfg.IOPath, "flags beat the file")
	assert.Equal(t, 6, cfg.NumWorker, "env beats the file when the flag is unset")
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ByteSize(64_000_000), cfg.IOSize)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"missing io_path": "num_worker: 1\n",
		"bad io_mode":     "io_path: /x\nio_mode: lmdb\n",
		"bad compression": "io_path: /x\ncompression: lz4\n",
		"negative worker": "io_path: /x\nnum_worker: -1\n",
		"zero quota":      "io_path: /x\nnum_samples_per_worker: 0\n",
		"bad log format":  "io_path: /x\nlogging:\n  format: xml\n",
		"bad io_size":     "io_path: /x\nio_size: lots\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, pipeline.ErrConfiguration)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorIs(t, err, pipeline.ErrConfiguration)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("EEGIO_IO_PATH", "/data/eeg")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	cfg.IOSize = 512 << 20
	cfg.NumWorker = 3

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "io_size: 512 MiB")

	reloaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.IOSize, reloaded.IOSize)
	assert.Equal(t, 3, reloaded.NumWorker)
}

func TestLoggingApply(t *testing.T) {
	logger := log.New()

	closer, err := LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}.Apply(logger)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)

	file := filepath.Join(t.TempDir(), "engine.log")
	closer, err = LoggingConfig{Level: "info", Format: "text", Output: file}.Apply(logger)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("hello")))

	_, err = LoggingConfig{Level: "loud", Format: "text", Output: "stderr"}.Apply(logger)
	assert.ErrorIs(t, err, pipeline.ErrConfiguration)
}

func TestLoadHonoursLogLevelEnv(t *testing.T) {
	t.Setenv("EEGIO_IO_PATH", "/data/eeg")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Setenv("EEGIO_LOGGING_LEVEL", "error")
	cfg, err = Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

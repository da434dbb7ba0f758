// Package config loads engine settings from a YAML file, EEGIO_* environment
// variables, command line flags and defaults.
//
// Precedence (highest to lowest):
//  1. Flags bound through Load
//  2. Environment variables (EEGIO_*, nested keys joined by "_")
//  3. Configuration file
//  4. Defaults
package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/pipeline"
	"eeg-io-engine/internal/storage"
)

const EnvPrefix = "EEGIO"

type Config struct {
	// IOPath is the dataset directory.
	IOPath string `mapstructure:"io_path" validate:"required" yaml:"io_path"`

	// IOSize bounds the signal store. Accepts "10MiB", "1 GB" or plain bytes.
	IOSize ByteSize `mapstructure:"io_size" yaml:"io_size"`

	IOMode      string `mapstructure:"io_mode" validate:"oneof=mmap badger file" yaml:"io_mode"`
	Compression string `mapstructure:"compression" validate:"oneof=none zstd" yaml:"compression"`

	NumWorker           int `mapstructure:"num_worker" validate:"gte=0" yaml:"num_worker"`
	NumSamplesPerWorker int `mapstructure:"num_samples_per_worker" validate:"gt=0" yaml:"num_samples_per_worker"`

	Verbose  bool `mapstructure:"verbose" yaml:"verbose"`
	KeepTmp  bool `mapstructure:"keep_tmp" yaml:"keep_tmp"`
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

type LoggingConfig struct {
	// Level accepts any logrus level name.
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn warning error fatal panic" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// ByteSize is a byte count that decodes from human-readable strings.
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

func defaults() map[string]interface{} {
	level := "info"
	if env, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if _, err := log.ParseLevel(env); err == nil {
			level = strings.ToLower(env)
		}
	}

	return map[string]interface{}{
		"io_path":                 "",
		"io_size":                 pipeline.DefaultIOSize,
		"io_mode":                 string(storage.ModeMmap),
		"compression":             ndarray.CompressionNone.String(),
		"num_worker":              0,
		"num_samples_per_worker":  pipeline.DefaultNumSamplesPerWorker,
		"verbose":                 false,
		"keep_tmp":                false,
		"in_memory":               false,
		"logging.level":           level,
		"logging.format":          "text",
		"logging.output":          "stderr",
		"metrics.enabled":         true,
		"server.addr":             ":8080",
		"server.shutdown_timeout": "10s",
	}
}

// Load reads configPath (optional) and overlays environment variables and
// any changed flags in flags. A flag binds to the key with "." and "_"
// replaced by "-", e.g. --io-path, --logging-level.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, configErrorf("configuration file not found: %s", configPath)
			}
			return nil, configErrorf("read config file %s: %v", configPath, err)
		}
	}

	if flags != nil {
		for _, key := range v.AllKeys() {
			if f := flags.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", f.Name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, configErrorf("unmarshal config: %v", err)
	}
	cfg.normalize()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

func (c *Config) normalize() {
	c.IOMode = strings.ToLower(c.IOMode)
	c.Compression = strings.ToLower(c.Compression)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

var validate = validator.New()

// Validate checks struct constraints. Failures wrap pipeline.ErrConfiguration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return configErrorf("configuration validation failed: %v", err)
	}
	return nil
}

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(pipeline.ErrConfiguration, format, args...)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, errors.Wrapf(err, "parse byte size %q", v)
			}
			return ByteSize(n), nil
		case int:
			if v < 0 {
				return nil, errors.Errorf("negative byte size %d", v)
			}
			return ByteSize(v), nil
		case int64:
			if v < 0 {
				return nil, errors.Errorf("negative byte size %d", v)
			}
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			if v < 0 {
				return nil, errors.Errorf("negative byte size %v", v)
			}
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// BuildOptions maps the configuration onto pipeline build options. Hooks,
// logger and metrics are left for the caller.
func (c *Config) BuildOptions() (pipeline.Options, error) {
	mode, err := storage.ParseMode(c.IOMode)
	if err != nil {
		return pipeline.Options{}, errors.Wrap(pipeline.ErrConfiguration, err.Error())
	}
	comp, err := ndarray.ParseCompression(c.Compression)
	if err != nil {
		return pipeline.Options{}, errors.Wrap(pipeline.ErrConfiguration, err.Error())
	}
	return pipeline.Options{
		IOPath:              c.IOPath,
		IOSize:              int64(c.IOSize),
		IOMode:              mode,
		Compression:         comp,
		NumWorker:           c.NumWorker,
		NumSamplesPerWorker: c.NumSamplesPerWorker,
		Verbose:             c.Verbose,
		KeepTmp:             c.KeepTmp,
	}, nil
}

// DatasetOptions maps the read-side settings. The backend comes from the
// dataset manifest.
func (c *Config) DatasetOptions() pipeline.DatasetOptions {
	return pipeline.DatasetOptions{InMemory: c.InMemory}
}

// Save writes cfg as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	manifestFile = "manifest.yaml"
	metadataFile = "info.db"
	signalDir    = "eeg"
	tmpDir       = "tmp"
)

// Manifest records how a dataset directory was produced so readers can
// reopen it with the same backend.
type Manifest struct {
	IOMode              string    `json:"io_mode" yaml:"io_mode"`
	IOSize              int64     `json:"io_size" yaml:"io_size"`
	Compression         string    `json:"compression" yaml:"compression"`
	NumWorker           int       `json:"num_worker" yaml:"num_worker"`
	NumSamplesPerWorker int       `json:"num_samples_per_worker" yaml:"num_samples_per_worker"`
	Blocks              int       `json:"blocks" yaml:"blocks"`
	Records             uint64    `json:"records" yaml:"records"`
	CreatedAt           time.Time `json:"created_at" yaml:"created_at"`
}

func writeManifest(ioPath string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal manifest")
	}
	if err := os.WriteFile(filepath.Join(ioPath, manifestFile), data, 0o644); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	return nil
}

// ReadManifest loads the manifest of a materialized dataset.
func ReadManifest(ioPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(ioPath, manifestFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest in %s", ioPath)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	return &m, nil
}

// Exists reports whether ioPath already holds dataset stores.
func Exists(ioPath string) bool {
	for _, name := range []string{metadataFile, signalDir, manifestFile} {
		if _, err := os.Stat(filepath.Join(ioPath, name)); err == nil {
			return true
		}
	}
	return false
}

// Clear removes the stores, manifest and temporary blocks under ioPath.
// Other files in the directory are left alone.
func Clear(ioPath string) error {
	for _, name := range []string{metadataFile, signalDir, manifestFile, tmpDir} {
		if err := os.RemoveAll(filepath.Join(ioPath, name)); err != nil {
			return errors.Wrapf(err, "remove %s", name)
		}
	}
	return nil
}

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/types"
)

// RawDataset is the pipeline input: either two in-memory arrays or two
// equal-length lists of per-block array files. Exactly one form may be set.
type RawDataset struct {
	X *ndarray.Array
	Y *ndarray.Array

	XPaths []string
	YPaths []string
}

// FromArrays builds an in-memory RawDataset. y has shape [N, L].
func FromArrays(x, y ndarray.Array) RawDataset {
	return RawDataset{X: &x, Y: &y}
}

// FromPaths builds a RawDataset where xPaths[i] and yPaths[i] form block i.
func FromPaths(xPaths, yPaths []string) RawDataset {
	return RawDataset{XPaths: xPaths, YPaths: yPaths}
}

func (r RawDataset) isArrays() bool {
	return r.X != nil && r.Y != nil && r.XPaths == nil && r.YPaths == nil
}

func (r RawDataset) isPaths() bool {
	return r.X == nil && r.Y == nil && r.XPaths != nil && r.YPaths != nil
}

// Validate rejects mixed or incomplete inputs without touching the disk.
func (r RawDataset) Validate() error {
	switch {
	case r.isArrays():
		if r.X.Len() != r.Y.Len() {
			return configErrorf("X has %d samples but y has %d", r.X.Len(), r.Y.Len())
		}
		if r.X.Size() != productOf(r.X.Shape) || r.Y.Size() != productOf(r.Y.Shape) {
			return configErrorf("X or y data does not match its shape")
		}
		return nil
	case r.isPaths():
		if len(r.XPaths) != len(r.YPaths) {
			return configErrorf("got %d sample paths but %d label paths", len(r.XPaths), len(r.YPaths))
		}
		if len(r.XPaths) == 0 {
			return configErrorf("path lists are empty")
		}
		return nil
	default:
		return configErrorf("X and y must be either two arrays or two lists of paths")
	}
}

func productOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// BlockPlanner splits a RawDataset into blocks. Array input is dumped to
// TmpDir so every block can be loaded independently by a worker.
type BlockPlanner struct {
	TmpDir          string
	SamplesPerBlock int
}

// Plan returns the blocks in a stable order.
func (p BlockPlanner) Plan(raw RawDataset) ([]types.Block, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	if raw.isPaths() {
		blocks := make([]types.Block, len(raw.XPaths))
		for i := range raw.XPaths {
			blocks[i] = types.Block{ID: i, SamplePath: raw.XPaths[i], LabelPath: raw.YPaths[i]}
		}
		return blocks, nil
	}

	ranges, err := SplitRanges(raw.X.Len(), p.SamplesPerBlock)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.TmpDir, 0o755); err != nil {
		return nil, classify(ErrStore, errors.Wrap(err, "create tmp dir"))
	}

	blocks := make([]types.Block, len(ranges))
	for id, rg := range ranges {
		b := types.Block{
			ID:         id,
			SamplePath: filepath.Join(p.TmpDir, fmt.Sprintf("%d_x.arr", id)),
			LabelPath:  filepath.Join(p.TmpDir, fmt.Sprintf("%d_y.arr", id)),
		}
		if err := ndarray.Save(b.SamplePath, raw.X.Slice(rg[0], rg[1])); err != nil {
			return nil, classify(ErrStore, err)
		}
		if err := ndarray.Save(b.LabelPath, raw.Y.Slice(rg[0], rg[1])); err != nil {
			return nil, classify(ErrStore, err)
		}
		blocks[id] = b
	}
	return blocks, nil
}

// SplitRanges partitions [0, n) into n/perBlock contiguous half-open ranges
// whose sizes differ by at most one; the leading n%groups ranges get the
// extra sample.
func SplitRanges(n, perBlock int) ([][2]int, error) {
	if perBlock <= 0 {
		return nil, configErrorf("num_samples_per_worker must be positive, got %d", perBlock)
	}
	groups := n / perBlock
	if groups == 0 {
		return nil, configErrorf("cannot form a block: %d samples is fewer than num_samples_per_worker=%d", n, perBlock)
	}

	size, extra := n/groups, n%groups
	ranges := make([][2]int, groups)
	lo := 0
	for g := range ranges {
		hi := lo + size
		if g < extra {
			hi++
		}
		ranges[g] = [2]int{lo, hi}
		lo = hi
	}
	return ranges, nil
}

package types

import (
	"fmt"

	"eeg-io-engine/internal/ndarray"
)

// ClipIDKey is the metadata column holding the signal store key.
const ClipIDKey = "clip_id"

// Row is one metadata record: clip_id plus one entry per label column,
// keyed by the column index as a decimal string.
type Row map[string]any

// ClipID returns the row's signal key, or "" if absent.
func (r Row) ClipID() string {
	id, _ := r[ClipIDKey].(string)
	return id
}

// Record is one transformed sample on its way to the stores.
type Record struct {
	Signal ndarray.Array `json:"eeg"`
	Key    string        `json:"key"`
	Info   Row           `json:"info"`
}

// Block is an independently processable slice of the raw dataset.
type Block struct {
	ID         int    `json:"block_id"`
	SamplePath string `json:"sample_path"`
	LabelPath  string `json:"label_path"`
}

// ClipID builds the run-unique sample key "{block}_{index}".
func ClipID(blockID, index int) string {
	return fmt.Sprintf("%d_%d", blockID, index)
}

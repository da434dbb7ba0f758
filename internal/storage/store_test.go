package storage

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/types"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMmap, m)

	m, err = ParseMode("Badger")
	require.NoError(t, err)
	assert.Equal(t, ModeBadger, m)

	_, err = ParseMode("lmdb")
	assert.Error(t, err)
}

func TestSignalStoreBackends(t *testing.T) {
	modes := []Mode{ModeMmap, ModeBadger, ModeFile}
	compressions := []ndarray.Compression{ndarray.CompressionNone, ndarray.CompressionZstd}

	for _, mode := range modes {
		for _, c := range compressions {
			t.Run(fmt.Sprintf("%s/%s", mode, c), func(t *testing.T) {
				dir := filepath.Join(t.TempDir(), "eeg")
				store, err := OpenSignalStore(dir, 0, mode, Options{Compression: c})
				require.NoError(t, err)

				arr := ndarray.New(4, 8)
				for i := range arr.Data {
					arr.Data[i] = float64(i) / 3
				}
				require.NoError(t, store.Write("3_7", arr))
				require.ErrorIs(t, store.Write("3_7", arr), ErrDuplicateKey)
				require.ErrorIs(t, store.Write("../x", arr), ErrInvalidKey)

				got, err := store.Read("3_7")
				require.NoError(t, err)
				assert.True(t, ndarray.Equal(arr, got))

				_, err = store.Read("9_9")
				assert.ErrorIs(t, err, ErrKeyNotFound)
				assert.True(t, store.ConcurrentReaders())
				require.NoError(t, store.Close())

				reopened, err := OpenSignalStore(dir, 0, mode, Options{Compression: c})
				require.NoError(t, err)
				defer reopened.Close()
				assert.Equal(t, uint64(1), reopened.Count())
				keys, err := reopened.Keys()
				require.NoError(t, err)
				assert.Equal(t, []string{"3_7"}, keys)
			})
		}
	}
}

func TestSignalStoreCapacity(t *testing.T) {
	for _, mode := range []Mode{ModeMmap, ModeBadger, ModeFile} {
		t.Run(string(mode), func(t *testing.T) {
			store, err := OpenSignalStore(filepath.Join(t.TempDir(), "eeg"), 2048, mode, Options{})
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Write("0_0", ndarray.New(8)))
			err = store.Write("0_1", ndarray.New(512))
			assert.ErrorIs(t, err, ErrCapacityExceeded)
			assert.Equal(t, uint64(1), store.Count())
		})
	}
}

func TestSignalStoreConcurrentReaders(t *testing.T) {
	store, err := OpenSignalStore(filepath.Join(t.TempDir(), "eeg"), 0, ModeMmap, Options{})
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 32; i++ {
		a := ndarray.New(16)
		a.Data[0] = float64(i)
		require.NoError(t, store.Write(types.ClipID(0, i), a))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				a, err := store.Read(types.ClipID(0, i))
				if err != nil {
					errs <- err
					return
				}
				if a.Data[0] != float64(i) {
					errs <- fmt.Errorf("entry %d has %v", i, a.Data[0])
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestBoltMetadataStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.db")

	meta, err := NewBoltMetadataStore(path, false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		row, err := EncodeRow(types.Row{types.ClipIDKey: types.ClipID(0, i), "0": float64(i)})
		require.NoError(t, err)
		idx, err := meta.Append(row)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), idx)
	}
	assert.Equal(t, uint64(3), meta.Count())

	row, err := meta.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "0_1", row.ClipID())
	assert.Equal(t, 1.0, row["0"])

	_, err = meta.Get(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	require.NoError(t, meta.Close())

	ro, err := NewBoltMetadataStore(path, true)
	require.NoError(t, err)
	defer ro.Close()

	rows, err := ro.All()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "0_2", rows[2].ClipID())

	_, err = ro.Append(EncodedRow{})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestEncodeRowKeepsFloatBits(t *testing.T) {
	payloadNaN := math.Float64frombits(0x7ff8000000000001)
	in := types.Row{
		types.ClipIDKey: "3_1",
		"0":             payloadNaN,
		"1":             math.Inf(1),
		"2":             math.Inf(-1),
		"count":         7,
		"extra":         map[string]any{"nested": math.NaN()},
	}

	path := filepath.Join(t.TempDir(), "info.db")
	meta, err := NewBoltMetadataStore(path, false)
	require.NoError(t, err)
	defer meta.Close()

	enc, err := EncodeRow(in)
	require.NoError(t, err)
	_, err = meta.Append(enc)
	require.NoError(t, err)

	out, err := meta.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "3_1", out.ClipID())
	assert.Equal(t, math.Float64bits(payloadNaN), math.Float64bits(out["0"].(float64)))
	assert.True(t, math.IsInf(out["1"].(float64), 1))
	assert.True(t, math.IsInf(out["2"].(float64), -1))
	assert.Equal(t, 7, out["count"])
	assert.True(t, math.IsNaN(out["extra"].(map[string]any)["nested"].(float64)))

	_, err = EncodeRow(types.Row{"bad": make(chan int)})
	assert.Error(t, err)
}

package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"eeg-io-engine/internal/ndarray"
)

func mustArray(t *testing.T, data []float64, shape ...int) ndarray.Array {
	t.Helper()
	a, err := ndarray.FromData(data, shape...)
	if err != nil {
		t.Fatalf("Failed to build array: %v", err)
	}
	return a
}

func TestMmapSignalStore(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "signals.bin")

	// 1. Create and Write
	store, err := NewMmapSignalStore(tmpFile, 0, Options{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	a1 := mustArray(t, []float64{1.0, 2.0, 3.0, 4.0}, 2, 2)
	a2 := mustArray(t, []float64{5.0, 6.0}, 2)

	if err := store.Write("0_0", a1); err != nil {
		t.Fatalf("Failed to write a1: %v", err)
	}
	if err := store.Write("0_1", a2); err != nil {
		t.Fatalf("Failed to write a2: %v", err)
	}

	if count := store.Count(); count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}

	// 2. Read back
	got, err := store.Read("0_0")
	if err != nil {
		t.Fatalf("Failed to read a1: %v", err)
	}
	if !ndarray.Equal(a1, got) {
		t.Errorf("a1 mismatch: %v", got)
	}

	// 3. Close and Reopen (Persistence)
	_ = store.Close()

	store2, err := NewMmapSignalStore(tmpFile, 0, Options{})
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store2.Close()

	if count := store2.Count(); count != 2 {
		t.Errorf("Reopened count mismatch. Expected 2, got %d", count)
	}

	got2, err := store2.Read("0_1")
	if err != nil {
		t.Fatalf("Failed to read a2 after reopen: %v", err)
	}
	if !ndarray.Equal(a2, got2) {
		t.Errorf("a2 mismatch after reopen: %v", got2)
	}

	keys, _ := store2.Keys()
	if len(keys) != 2 || keys[0] != "0_0" || keys[1] != "0_1" {
		t.Errorf("Unexpected keys after reopen: %v", keys)
	}
}

func TestMmapSignalStore_Growth(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "signals.bin")

	store, err := NewMmapSignalStore(tmpFile, 0, Options{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	// Each entry is ~64KiB, forcing several remaps past the 1MiB initial size.
	big := ndarray.New(8192)
	for i := 0; i < 40; i++ {
		big.Data[0] = float64(i)
		if err := store.Write(fmt.Sprintf("0_%d", i), big); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	if store.Count() != 40 {
		t.Errorf("Expected 40 entries, got %d", store.Count())
	}
}

func TestMmapSignalStore_CapacityExceeded(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "signals.bin")

	store, err := NewMmapSignalStore(tmpFile, 4096, Options{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Write("small", ndarray.New(16)); err != nil {
		t.Fatalf("Failed to write small entry: %v", err)
	}
	err = store.Write("big", ndarray.New(1024))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Expected ErrCapacityExceeded, got %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("Failed write must not be counted, got %d", store.Count())
	}
}

func TestMmapSignalStore_DuplicateKey(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "signals.bin")

	store, err := NewMmapSignalStore(tmpFile, 0, Options{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Write("0_0", ndarray.New(2)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if err := store.Write("0_0", ndarray.New(2)); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestMmapSignalStore_ReadOnly(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "signals.bin")

	store, err := NewMmapSignalStore(tmpFile, 0, Options{})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Write("0_0", ndarray.New(3)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	_ = store.Close()

	ro, err := NewMmapSignalStore(tmpFile, 0, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("Failed to open read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.Read("0_0"); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if err := ro.Write("0_1", ndarray.New(3)); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Expected ErrReadOnly, got %v", err)
	}
}

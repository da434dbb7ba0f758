package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"eeg-io-engine/internal/types"

	"go.etcd.io/bbolt"
)

var bucketInfo = []byte("info")

func init() {
	gob.Register(types.Row{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// EncodedRow is a metadata row in its stored form.
type EncodedRow []byte

// EncodeRow serializes row with gob. Float values, NaN and infinities
// included, round-trip bit-exactly. Every value must be gob-encodable.
func EncodeRow(row types.Row) (EncodedRow, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]any(row)); err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRow(data []byte) (types.Row, error) {
	var row map[string]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return types.Row(row), nil
}

// BoltMetadataStore keeps metadata rows in a bbolt bucket keyed by their
// big-endian append index, so cursor order is persisted order.
type BoltMetadataStore struct {
	db *bbolt.DB
}

func NewBoltMetadataStore(path string, readOnly bool) (*BoltMetadataStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, err
	}

	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketInfo)
			return err
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &BoltMetadataStore{db: db}, nil
}

func indexKey(i uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], i)
	return k[:]
}

func (s *BoltMetadataStore) Append(row EncodedRow) (uint64, error) {
	if s.db.IsReadOnly() {
		return 0, ErrReadOnly
	}

	var idx uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInfo)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		idx = seq - 1
		return b.Put(indexKey(idx), row)
	})
	if err != nil {
		return 0, err
	}
	return idx, nil
}

func (s *BoltMetadataStore) Get(index uint64) (types.Row, error) {
	var row types.Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInfo)
		if b == nil {
			return fmt.Errorf("%w: %d (empty store)", ErrIndexOutOfRange, index)
		}
		data := b.Get(indexKey(index))
		if data == nil {
			return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, b.Sequence())
		}
		var err error
		row, err = decodeRow(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *BoltMetadataStore) Count() uint64 {
	var n uint64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketInfo); b != nil {
			n = b.Sequence()
		}
		return nil
	})
	return n
}

func (s *BoltMetadataStore) All() ([]types.Row, error) {
	var rows []types.Row
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInfo)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *BoltMetadataStore) Close() error {
	return s.db.Close()
}

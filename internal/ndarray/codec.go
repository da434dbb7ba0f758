package ndarray

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Encoded layout (v1):
//
//	0..7   magic "EEGARR01"
//	8      compression (0 none, 1 zstd)
//	9..12  ndim (uint32)
//	...    ndim x uint64 dims
//	...    payload length (uint64)
//	...    payload: little-endian float64, optionally zstd framed
const headerFixedSize = 13

// maxElements bounds the element count a header may declare, so the float
// payload size always fits in an int.
const maxElements = math.MaxInt64 / 8

var arrayMagic = [8]byte{'E', 'E', 'G', 'A', 'R', 'R', '0', '1'}

// Compression selects how the float payload is stored.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ParseCompression accepts "", "none" and "zstd".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, errors.Errorf("unknown compression %q", s)
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// codecs are shared; EncodeAll and DecodeAll are safe for concurrent use.
func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Marshal serializes a into the native block format.
func Marshal(a Array, c Compression) ([]byte, error) {
	if product(a.Shape) != len(a.Data) {
		return nil, errors.Errorf("array shape %v does not match %d elements", a.Shape, len(a.Data))
	}

	payload := make([]byte, len(a.Data)*8)
	for i, v := range a.Data {
		binary.LittleEndian.PutUint64(payload[i*8:], math.Float64bits(v))
	}

	switch c {
	case CompressionNone:
	case CompressionZstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, errors.Wrap(err, "init zstd")
		}
		payload = enc.EncodeAll(payload, nil)
	default:
		return nil, errors.Errorf("unsupported compression %s", c)
	}

	buf := make([]byte, headerFixedSize+len(a.Shape)*8+8+len(payload))
	copy(buf[:8], arrayMagic[:])
	buf[8] = byte(c)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(a.Shape)))
	off := headerFixedSize
	for _, d := range a.Shape {
		binary.LittleEndian.PutUint64(buf[off:], uint64(d))
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(payload)))
	off += 8
	copy(buf[off:], payload)
	return buf, nil
}

// Unmarshal parses bytes produced by Marshal.
func Unmarshal(buf []byte) (Array, error) {
	if len(buf) < headerFixedSize {
		return Array{}, errors.Errorf("array blob too small for header: %d < %d", len(buf), headerFixedSize)
	}
	var mg [8]byte
	copy(mg[:], buf[:8])
	if mg != arrayMagic {
		return Array{}, errors.New("invalid array header (magic mismatch)")
	}
	c := Compression(buf[8])
	ndim := int(binary.LittleEndian.Uint32(buf[9:13]))

	off := headerFixedSize
	if len(buf) < off+ndim*8+8 {
		return Array{}, errors.Errorf("array blob truncated in shape (ndim=%d)", ndim)
	}
	shape := make([]int, ndim)
	elems := uint64(1)
	for i := range shape {
		d := binary.LittleEndian.Uint64(buf[off:])
		if d != 0 && elems > maxElements/d {
			return Array{}, errors.Errorf("array shape too large at dim %d (%d)", i, d)
		}
		elems *= d
		shape[i] = int(d)
		off += 8
	}
	payloadLen := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	if uint64(len(buf)-off) < payloadLen {
		return Array{}, errors.Errorf("array blob truncated: payload %d bytes, have %d", payloadLen, len(buf)-off)
	}
	payload := buf[off : off+int(payloadLen)]

	switch c {
	case CompressionNone:
	case CompressionZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return Array{}, errors.Wrap(err, "init zstd")
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return Array{}, errors.Wrap(err, "decompress array payload")
		}
	default:
		return Array{}, errors.Errorf("unsupported compression %s", c)
	}

	n := product(shape)
	if len(payload) != n*8 {
		return Array{}, errors.Errorf("array payload is %d bytes, shape %v needs %d", len(payload), shape, n*8)
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:]))
	}
	return Array{Shape: shape, Data: data}, nil
}

// Save writes a to path in the native format, uncompressed.
func Save(path string, a Array) error {
	buf, err := Marshal(a, CompressionNone)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errors.Wrapf(err, "write array %s", path)
	}
	return nil
}

// Load reads an array file. Files ending in .npy are parsed as numpy arrays;
// everything else is expected in the native format.
func Load(path string) (Array, error) {
	if strings.EqualFold(filepath.Ext(path), ".npy") {
		return LoadNpy(path)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Array{}, errors.Wrapf(err, "read array %s", path)
	}
	a, err := Unmarshal(buf)
	if err != nil {
		return Array{}, errors.Wrapf(err, "decode array %s", path)
	}
	return a, nil
}

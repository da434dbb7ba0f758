package ndarray

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// LoadNpy reads a C-ordered numpy .npy file and converts it to float64.
func LoadNpy(path string) (Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return Array{}, errors.Wrapf(err, "open npy %s", path)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return Array{}, errors.Wrapf(err, "read npy header %s", path)
	}
	if r.Header.Descr.Fortran {
		return Array{}, errors.Errorf("npy %s: fortran-ordered arrays are not supported", path)
	}
	shape := append([]int(nil), r.Header.Descr.Shape...)

	var data []float64
	switch r.Header.Descr.Type {
	case "<f8", "f8", "float64":
		err = r.Read(&data)
	case "<f4", "f4", "float32":
		var raw []float32
		if err = r.Read(&raw); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "<i8", "i8", "int64":
		var raw []int64
		if err = r.Read(&raw); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "<i4", "i4", "int32":
		var raw []int32
		if err = r.Read(&raw); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	case "|u1", "u1", "uint8":
		var raw []uint8
		if err = r.Read(&raw); err == nil {
			data = make([]float64, len(raw))
			for i, v := range raw {
				data[i] = float64(v)
			}
		}
	default:
		return Array{}, errors.Errorf("npy %s: unsupported dtype %q", path, r.Header.Descr.Type)
	}
	if err != nil {
		return Array{}, errors.Wrapf(err, "read npy data %s", path)
	}

	a, err := FromData(data, shape...)
	if err != nil {
		return Array{}, errors.Wrapf(err, "npy %s", path)
	}
	return a, nil
}

package api

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/types"
)

// Float is a float64 whose JSON form carries NaN and the infinities as the
// strings "NaN", "Infinity" and "-Infinity".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch s {
		case "NaN":
			*f = Float(math.NaN())
		case "Infinity":
			*f = Float(math.Inf(1))
		case "-Infinity":
			*f = Float(math.Inf(-1))
		default:
			return errors.Errorf("invalid float %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats converts data for JSON output.
func Floats(data []float64) []Float {
	out := make([]Float, len(data))
	for i, v := range data {
		out[i] = Float(v)
	}
	return out
}

// jsonValue rewrites the float64 values inside v as Float.
func jsonValue(v any) any {
	switch t := v.(type) {
	case float64:
		return Float(t)
	case []float64:
		return Floats(t)
	case types.Row:
		return jsonMap(t)
	case map[string]any:
		return jsonMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonValue(e)
		}
		return out
	default:
		return v
	}
}

func jsonMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = jsonValue(e)
	}
	return out
}

// NewRecordResponse renders one record. Non-finite signal samples and label
// values survive the trip through JSON.
func NewRecordResponse(index int, clipID string, signal ndarray.Array, label any) RecordResponse {
	return RecordResponse{
		Index:  index,
		ClipID: clipID,
		Shape:  signal.Shape,
		Data:   Floats(signal.Data),
		Label:  jsonValue(label),
	}
}

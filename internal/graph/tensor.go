package graph

import (
	"fmt"

	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
)

// Shape returns the initializer dims as ints.
func (init *Initializer) Shape() []int {
	out := make([]int, len(init.Dims))
	for i, d := range init.Dims {
		out[i] = int(d)
	}
	return out
}

// IsFloat reports whether the initializer holds a quantizable float tensor.
func (init *Initializer) IsFloat() bool {
	return quant.IsQuantizable(init.DataType)
}

// ToTensor decodes a FLOAT, FLOAT16 or BFLOAT16 initializer.
func ToTensor(init *Initializer) (*tensor.Tensor, error) {
	dt, err := quant.TensorDType(init.DataType)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", init.Name, err)
	}
	t, err := tensor.FromRaw(init.Shape(), dt, init.RawData)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", init.Name, err)
	}
	return t, nil
}

// FromTensor encodes t as an initializer in its own dtype.
func FromTensor(name string, t *tensor.Tensor) (*Initializer, error) {
	raw, err := t.Encode(t.DType)
	if err != nil {
		return nil, fmt.Errorf("initializer %s: %w", name, err)
	}
	return &Initializer{
		Name:     name,
		DataType: quant.FromTensorDType(t.DType),
		Dims:     Dims(t.Shape...),
		RawData:  raw,
	}, nil
}

// Dims converts a shape to initializer dims.
func Dims(shape ...int) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		out[i] = int64(d)
	}
	return out
}

var stDTypes = map[quant.QType]string{
	quant.Float:    "F32",
	quant.Float16:  "F16",
	quant.BFloat16: "BF16",
	quant.Double:   "F64",
	quant.Uint8:    "U8",
	quant.Int8:     "I8",
	quant.Uint16:   "U16",
	quant.Int16:    "I16",
	quant.Int32:    "I32",
	quant.Uint32:   "U32",
	quant.Int64:    "I64",
	quant.Uint64:   "U64",
	quant.Bool:     "BOOL",
}

// SafetensorsDType returns the safetensors dtype string for q.
func SafetensorsDType(q quant.QType) (string, error) {
	s, ok := stDTypes[q]
	if !ok {
		return "", fmt.Errorf("%w: %s cannot be stored in safetensors", quant.ErrUnsupportedType, q)
	}
	return s, nil
}

// QTypeFromSafetensors is the inverse of SafetensorsDType.
func QTypeFromSafetensors(s string) (quant.QType, error) {
	for q, name := range stDTypes {
		if name == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("%w: safetensors dtype %s", quant.ErrUnsupportedType, s)
}

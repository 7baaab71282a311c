package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType describes the element encoding a tensor was read from or is written to.
type DType uint8

const (
	Float32 DType = iota
	Float16
	BFloat16
)

var errUnsupportedDType = fmt.Errorf("tensor: unsupported dtype")

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Size returns the encoded element size in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	default:
		return 0
	}
}

// FromRaw decodes little-endian raw bytes of the given dtype into a float32
// tensor that remembers dtype.
func FromRaw(shape []int, dtype DType, raw []byte) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", errUnsupportedDType, dtype)
	}
	if len(raw) != n*size {
		return nil, fmt.Errorf("%w: %s shape %v wants %d bytes, have %d", ErrShape, dtype, shape, n*size, len(raw))
	}
	data := make([]float32, n)
	switch dtype {
	case Float32:
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case Float16:
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case BFloat16:
		for i := range data {
			data[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	}
	t, err := New(shape, data)
	if err != nil {
		return nil, err
	}
	t.DType = dtype
	return t, nil
}

// Encode returns the tensor data as little-endian bytes in dtype.
func (t *Tensor) Encode(dtype DType) ([]byte, error) {
	return EncodeValues(dtype, t.Data)
}

// EncodeValues writes vals as little-endian bytes in dtype.
func EncodeValues(dtype DType, vals []float32) ([]byte, error) {
	size := dtype.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: %s", errUnsupportedDType, dtype)
	}
	out := make([]byte, len(vals)*size)
	for i, v := range vals {
		switch dtype {
		case Float32:
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		case Float16:
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		case BFloat16:
			binary.LittleEndian.PutUint16(out[i*2:], f32ToBF16(v))
		}
	}
	return out, nil
}

// Cast rounds v to the precision of dtype and widens it back to float32.
func Cast(dtype DType, v float32) float32 {
	switch dtype {
	case Float16:
		return float16.Fromfloat32(v).Float32()
	case BFloat16:
		return bf16ToF32(f32ToBF16(v))
	default:
		return v
	}
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// f32ToBF16 rounds to nearest even, keeping NaN a quiet NaN.
func f32ToBF16(v float32) uint16 {
	bits := math.Float32bits(v)
	if v != v {
		return uint16(bits>>16) | 0x40
	}
	bits += 0x7FFF + ((bits >> 16) & 1)
	return uint16(bits >> 16)
}

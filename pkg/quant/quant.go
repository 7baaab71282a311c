// Package quant implements the numeric side of affine integer quantization:
// range tables, scale and zero-point derivation, element-wise quantize and
// dequantize, and group-wise low-bit weight quantization.
//
// Every function here is pure. Inputs are never mutated and outputs are newly
// allocated, so callers may run them concurrently over independent tensors.
package quant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/quanta/pkg/tensor"
)

var (
	ErrUnsupportedType = errors.New("quant: unsupported type")
	ErrNotImplemented  = errors.New("quant: not implemented")

	// ErrShape is tensor.ErrShape so callers can match either name.
	ErrShape = tensor.ErrShape
)

// QType is an element type code. Values follow the ONNX TensorProto numbering
// so they can be written into graph manifests unchanged.
type QType int

const (
	Float        QType = 1
	Uint8        QType = 2
	Int8         QType = 3
	Uint16       QType = 4
	Int16        QType = 5
	Int32        QType = 6
	Int64        QType = 7
	String       QType = 8
	Bool         QType = 9
	Float16      QType = 10
	Double       QType = 11
	Uint32       QType = 12
	Uint64       QType = 13
	Complex64    QType = 14
	Complex128   QType = 15
	BFloat16     QType = 16
	Float8E4M3FN QType = 17
)

var typeNames = map[string]QType{
	"fp32":       Float,
	"float32":    Float,
	"uint8":      Uint8,
	"int8":       Int8,
	"uint16":     Uint16,
	"int16":      Int16,
	"int32":      Int32,
	"int64":      Int64,
	"string":     String,
	"bool":       Bool,
	"fp16":       Float16,
	"float16":    Float16,
	"double":     Double,
	"uint32":     Uint32,
	"uint64":     Uint64,
	"complex64":  Complex64,
	"complex128": Complex128,
	"bf16":       BFloat16,
	"bfloat16":   BFloat16,
}

// canonical names used when printing a QType.
var qtypeStrings = map[QType]string{
	Float:        "float32",
	Uint8:        "uint8",
	Int8:         "int8",
	Uint16:       "uint16",
	Int16:        "int16",
	Int32:        "int32",
	Int64:        "int64",
	String:       "string",
	Bool:         "bool",
	Float16:      "float16",
	Double:       "double",
	Uint32:       "uint32",
	Uint64:       "uint64",
	Complex64:    "complex64",
	Complex128:   "complex128",
	BFloat16:     "bfloat16",
	Float8E4M3FN: "float8e4m3fn",
}

func (q QType) String() string {
	if s, ok := qtypeStrings[q]; ok {
		return s
	}
	return fmt.Sprintf("qtype(%d)", int(q))
}

// ParseQType maps a type name ("uint8", "fp16", "bf16", ...) to its code.
func ParseQType(name string) (QType, error) {
	q, ok := typeNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
	}
	return q, nil
}

// IsQuantizable reports whether a weight stored as q may be quantized.
func IsQuantizable(q QType) bool {
	return q == Float || q == Float16 || q == BFloat16
}

// TensorDType maps a floating QType to the tensor encoding used for it.
func TensorDType(q QType) (tensor.DType, error) {
	switch q {
	case Float:
		return tensor.Float32, nil
	case Float16:
		return tensor.Float16, nil
	case BFloat16:
		return tensor.BFloat16, nil
	default:
		return 0, fmt.Errorf("%w: %s is not a floating type", ErrUnsupportedType, q)
	}
}

// FromTensorDType is the inverse of TensorDType.
func FromTensorDType(d tensor.DType) QType {
	switch d {
	case tensor.Float16:
		return Float16
	case tensor.BFloat16:
		return BFloat16
	default:
		return Float
	}
}

// castInt converts v to qtype the way a C cast would, wrapping on overflow.
func castInt(qtype QType, v int64) (int, error) {
	switch qtype {
	case Int8:
		return int(int8(v)), nil
	case Uint8:
		return int(uint8(v)), nil
	case Int16:
		return int(int16(v)), nil
	case Uint16:
		return int(uint16(v)), nil
	case Int32:
		return int(int32(v)), nil
	case Uint32:
		return int(uint32(v)), nil
	case Int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %s is not an integer type", ErrUnsupportedType, qtype)
	}
}

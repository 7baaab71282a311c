// Package tensor provides the dense, row-major float32 tensor the quantization
// engine operates on.
//
// Inputs stored as float16 or bfloat16 are widened to float32 when read. The
// source encoding is remembered in DType so derived constants (such as scales)
// can be written back in the same precision.
package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// ErrShape reports a shape that does not match the data or the requested view.
var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major array of float32 values.
//
// Shape holds the dimensions, outermost first. Data holds Numel(Shape) values.
// Tensors returned by this package never alias their inputs unless the method
// documents it (Reshape shares Data).
type Tensor struct {
	Shape []int
	Data  []float32
	DType DType
}

// New wraps data in a tensor of the given shape.
func New(shape []int, data []float32) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v wants %d values, have %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data, DType: Float32}, nil
}

// Zeros allocates a zero-filled float32 tensor.
func Zeros(shape ...int) *Tensor {
	n, err := numel(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float32, n), DType: Float32}
}

// Numel returns the number of elements described by shape. An empty shape is a
// scalar and holds one element.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func numel(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension %d", ErrShape, d)
		}
		if d != 0 && n > int(^uint(0)>>1)/d {
			return 0, fmt.Errorf("%w: tensor too large", ErrShape)
		}
		n *= d
	}
	return n, nil
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Dim returns the size of dimension i. Negative indices count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data), DType: t.DType}
}

// Reshape returns a view with a new shape over the same data. At most one
// dimension may be -1, in which case it is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	out, err := ResolveShape(len(t.Data), shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{Shape: out, Data: t.Data, DType: t.DType}, nil
}

// ResolveShape fills in a single -1 dimension so that the shape holds n
// elements.
func ResolveShape(n int, shape []int) ([]int, error) {
	out := slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("%w: more than one inferred dimension in %v", ErrShape, shape)
			}
			infer = i
		case d < 0:
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || n%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %d elements into %v", ErrShape, n, shape)
		}
		out[infer] = n / known
		return out, nil
	}
	if known != n {
		return nil, fmt.Errorf("%w: cannot reshape %d elements into %v", ErrShape, n, shape)
	}
	return out, nil
}

// Transpose2D returns a new tensor with the two axes of a rank-2 tensor swapped.
func (t *Tensor) Transpose2D() (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("%w: transpose needs rank 2, have %v", ErrShape, t.Shape)
	}
	r, c := t.Shape[0], t.Shape[1]
	out := make([]float32, len(t.Data))
	for i := 0; i < r; i++ {
		row := t.Data[i*c : (i+1)*c]
		for j, v := range row {
			out[j*r+i] = v
		}
	}
	return &Tensor{Shape: []int{c, r}, Data: out, DType: t.DType}, nil
}

// HeadRows returns a copy of the first n entries along axis 0.
func (t *Tensor) HeadRows(n int) (*Tensor, error) {
	if len(t.Shape) == 0 || n < 0 || n > t.Shape[0] {
		return nil, fmt.Errorf("%w: cannot take %d rows of %v", ErrShape, n, t.Shape)
	}
	inner := Numel(t.Shape[1:])
	shape := slices.Clone(t.Shape)
	shape[0] = n
	return &Tensor{Shape: shape, Data: slices.Clone(t.Data[:n*inner]), DType: t.DType}, nil
}

// PadRows returns a copy zero-padded along axis 0 to n entries. A tensor that
// already has n or more rows is returned unchanged.
func (t *Tensor) PadRows(n int) *Tensor {
	if len(t.Shape) == 0 || t.Shape[0] >= n {
		return t
	}
	inner := Numel(t.Shape[1:])
	data := make([]float32, n*inner)
	copy(data, t.Data)
	shape := slices.Clone(t.Shape)
	shape[0] = n
	return &Tensor{Shape: shape, Data: data, DType: t.DType}
}

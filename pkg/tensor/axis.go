package tensor

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// Take returns the slice at index idx along axis, with that axis removed.
// It works on any element type so quantized integers can be sliced the same
// way as real values.
func Take[T any](data []T, shape []int, axis, idx int) ([]T, []int, error) {
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, nil, fmt.Errorf("%w: axis %d out of range for %v", ErrShape, axis, shape)
	}
	if len(data) != Numel(shape) {
		return nil, nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	if idx < 0 || idx >= shape[axis] {
		return nil, nil, fmt.Errorf("%w: index %d out of range for axis %d of %v", ErrShape, idx, axis, shape)
	}
	outer := Numel(shape[:axis])
	inner := Numel(shape[axis+1:])
	n := shape[axis]
	out := make([]T, 0, outer*inner)
	for o := 0; o < outer; o++ {
		base := (o*n + idx) * inner
		out = append(out, data[base:base+inner]...)
	}
	sub := slices.Delete(slices.Clone(shape), axis, axis+1)
	return out, sub, nil
}

// Concat joins parts along axis. Every part must have shape partShape, which
// already includes the axis being joined.
func Concat[T any](parts [][]T, partShape []int, axis int) ([]T, []int, error) {
	if axis < 0 {
		axis += len(partShape)
	}
	if axis < 0 || axis >= len(partShape) {
		return nil, nil, fmt.Errorf("%w: axis %d out of range for %v", ErrShape, axis, partShape)
	}
	want := Numel(partShape)
	for i, p := range parts {
		if len(p) != want {
			return nil, nil, fmt.Errorf("%w: part %d has %d values, want %d", ErrShape, i, len(p), want)
		}
	}
	outer := Numel(partShape[:axis])
	chunk := partShape[axis] * Numel(partShape[axis+1:])
	out := make([]T, 0, want*len(parts))
	for o := 0; o < outer; o++ {
		for _, p := range parts {
			out = append(out, p[o*chunk:(o+1)*chunk]...)
		}
	}
	shape := slices.Clone(partShape)
	shape[axis] *= len(parts)
	return out, shape, nil
}

// Widen converts float32 values to float64.
func Widen(vals []float32) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out
}

// MinMax returns the smallest and largest element. An empty tensor yields 0, 0.
func (t *Tensor) MinMax() (float32, float32) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	w := Widen(t.Data)
	return float32(floats.Min(w)), float32(floats.Max(w))
}

// ReduceMinMax returns per-index minimum and maximum along axis, reducing every
// other dimension.
func (t *Tensor) ReduceMinMax(axis int) ([]float32, []float32, error) {
	if axis < 0 {
		axis += len(t.Shape)
	}
	if axis < 0 || axis >= len(t.Shape) {
		return nil, nil, fmt.Errorf("%w: axis %d out of range for %v", ErrShape, axis, t.Shape)
	}
	n := t.Shape[axis]
	mins := make([]float32, n)
	maxs := make([]float32, n)
	for c := 0; c < n; c++ {
		vals, _, err := Take(t.Data, t.Shape, axis, c)
		if err != nil {
			return nil, nil, err
		}
		if len(vals) == 0 {
			continue
		}
		w := Widen(vals)
		mins[c] = float32(floats.Min(w))
		maxs[c] = float32(floats.Max(w))
	}
	return mins, maxs, nil
}

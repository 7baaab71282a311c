package quant

import (
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/quanta/pkg/tensor"
)

// QuantizeArray maps real values to qtype integers:
//
//	q = round_half_even(x/scale) + zp
//
// clamped to bounds when bounds is non-nil, then cast to qtype.
func QuantizeArray(qtype QType, x []float32, scale float32, zp int, bounds *QuantizationRange) ([]int, error) {
	out := make([]int, len(x))
	for i, v := range x {
		q, err := quantizeValue(qtype, v, scale, zp, bounds)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func quantizeValue(qtype QType, v, scale float32, zp int, bounds *QuantizationRange) (int, error) {
	q := math.RoundToEven(float64(v/scale)) + float64(zp)
	if bounds != nil {
		q = bounds.Clamp(q)
	}
	return castInt(qtype, int64(q))
}

// QuantizeArrayPerChannel quantizes t with one (scale, zero point) pair per
// index along axis.
func QuantizeArrayPerChannel(qtype QType, t *tensor.Tensor, axis int, p ChannelParams, bounds *QuantizationRange) ([]int, error) {
	if axis < 0 {
		axis += t.Rank()
	}
	if axis < 0 || axis >= t.Rank() {
		return nil, fmt.Errorf("%w: axis %d out of range for %v", ErrShape, axis, t.Shape)
	}
	n := t.Shape[axis]
	if p.Len() != n || len(p.ZeroPoint) != n {
		return nil, fmt.Errorf("%w: %d channel params for %d channels", ErrShape, p.Len(), n)
	}
	inner := tensor.Numel(t.Shape[axis+1:])
	out := make([]int, len(t.Data))
	for i, v := range t.Data {
		c := (i / inner) % n
		q, err := quantizeValue(qtype, v, p.Scale[c], p.ZeroPoint[c], bounds)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// Dequantize maps integers back to reals: (q - zp) * scale.
func Dequantize(q []int, scale float32, zp int) []float32 {
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = (float32(v) - float32(zp)) * scale
	}
	return out
}

// DequantizePerChannel dequantizes q of the given shape with one parameter
// pair per index along axis. Each channel is taken out, dequantized on its own
// and the results are joined back together along axis.
func DequantizePerChannel(q []int, shape []int, p ChannelParams, axis int) (*tensor.Tensor, error) {
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return nil, fmt.Errorf("%w: axis %d out of range for %v", ErrShape, axis, shape)
	}
	n := shape[axis]
	if p.Len() != n || len(p.ZeroPoint) != n {
		return nil, fmt.Errorf("%w: %d channel params for %d channels", ErrShape, p.Len(), n)
	}

	parts := make([][]float32, n)
	for c := range n {
		slice, _, err := tensor.Take(q, shape, axis, c)
		if err != nil {
			return nil, err
		}
		parts[c] = Dequantize(slice, p.Scale[c], p.ZeroPoint[c])
	}

	partShape := slices.Clone(shape)
	partShape[axis] = 1
	data, outShape, err := tensor.Concat(parts, partShape, axis)
	if err != nil {
		return nil, err
	}
	return tensor.New(outShape, data)
}

// DataResult is the output of QuantizeData.
type DataResult struct {
	RMin      float32
	RMax      float32
	Params    AffineParams
	Quantized []int
}

// QuantizeData quantizes data with parameters derived from its own minimum
// and maximum, clamped to r.
func QuantizeData(qtype QType, data []float32, r QuantizationRange, sym bool) (*DataResult, error) {
	var rmin, rmax float32
	if len(data) > 0 {
		t := tensor.Tensor{Shape: []int{len(data)}, Data: data}
		rmin, rmax = t.MinMax()
	}
	p, err := CalculateScaleZP(rmin, rmax, r, qtype, sym)
	if err != nil {
		return nil, err
	}
	q, err := QuantizeArray(qtype, data, p.Scale, p.ZeroPoint, &r)
	if err != nil {
		return nil, err
	}
	return &DataResult{RMin: rmin, RMax: rmax, Params: p, Quantized: q}, nil
}

// ChannelDataResult is the output of QuantizeDataPerChannel.
type ChannelDataResult struct {
	RMin      []float32
	RMax      []float32
	Params    ChannelParams
	Quantized []int
}

// QuantizeDataPerChannel quantizes t with one parameter pair per index along
// axis. Each channel's range is widened to include zero.
func QuantizeDataPerChannel(qtype QType, t *tensor.Tensor, axis int, r QuantizationRange, sym bool) (*ChannelDataResult, error) {
	rmin, rmax, err := t.ReduceMinMax(axis)
	if err != nil {
		return nil, err
	}
	for i := range rmin {
		rmin[i] = min(rmin[i], 0)
		rmax[i] = max(rmax[i], 0)
	}
	p, err := CalculateScaleZPPerChannel(rmin, rmax, r, qtype, sym)
	if err != nil {
		return nil, err
	}
	q, err := QuantizeArrayPerChannel(qtype, t, axis, p, &r)
	if err != nil {
		return nil, err
	}
	return &ChannelDataResult{RMin: rmin, RMax: rmax, Params: p, Quantized: q}, nil
}

package quant

import (
	"fmt"
	"math"

	"github.com/samcharles93/quanta/pkg/tensor"
)

// Kind selects the integer flavour produced by group quantization.
type Kind uint8

const (
	// KindInt keeps zero points as unclamped rounded reals.
	KindInt Kind = iota
	// KindUint produces unsigned codes with zero points inside [0, 2^bits-1].
	KindUint
)

func (k Kind) String() string {
	if k == KindUint {
		return "uint"
	}
	return "int"
}

// GroupOptions configures QuantTensor and QDQTensor.
type GroupOptions struct {
	Bits int
	// GroupSize is the number of contiguous elements sharing one scale.
	// -1 treats each row of the last axis as one group.
	GroupSize int
	Sym       bool
	Kind      Kind
	// Ratio scales each group's min and max. 1 disables clipping; 0 is read as 1.
	Ratio float64
}

// DefaultGroupOptions is 4-bit asymmetric with 32-element groups.
func DefaultGroupOptions() GroupOptions {
	return GroupOptions{Bits: 4, GroupSize: 32, Kind: KindInt, Ratio: 1}
}

// GroupQuantResult is the output of QuantTensor. Quantized is Rows×Cols in
// row-major order; Scale and ZeroPoint hold one entry per row.
type GroupQuantResult struct {
	Rows      int
	Cols      int
	Quantized []float64
	Scale     []float64
	ZeroPoint []float64
	Range     QuantizationRange
}

// Row returns the quantized values of row i.
func (r *GroupQuantResult) Row(i int) []float64 {
	return r.Quantized[i*r.Cols : (i+1)*r.Cols]
}

// Uint8 returns the quantized codes as bytes, one slice per row. Only valid for
// results whose range fits in a byte.
func (r *GroupQuantResult) Uint8() [][]uint8 {
	out := make([][]uint8, r.Rows)
	for i := range out {
		row := r.Row(i)
		b := make([]uint8, len(row))
		for j, v := range row {
			b[j] = uint8(int64(v))
		}
		out[i] = b
	}
	return out
}

// ZeroPointUint8 returns the zero points as bytes.
func (r *GroupQuantResult) ZeroPointUint8() []uint8 {
	out := make([]uint8, len(r.ZeroPoint))
	for i, v := range r.ZeroPoint {
		out[i] = uint8(int64(v))
	}
	return out
}

// GroupRange returns the integer range group quantization uses for bits.
func GroupRange(bits int, sym bool, kind Kind) QuantizationRange {
	if !sym || kind == KindUint {
		return QuantizationRange{Min: 0, Max: 1<<bits - 1}
	}
	if bits == 1 {
		return QuantizationRange{Min: -1, Max: 0}
	}
	return QuantizationRange{Min: -(1 << (bits - 1)), Max: 1<<(bits-1) - 1}
}

// QuantTensor splits data into groups of opts.GroupSize contiguous elements and
// quantizes each group with its own scale and zero point.
//
// Group statistics are computed at the input's precision. Scale, zero point and
// the quantized values are computed in float64.
func QuantTensor(data *tensor.Tensor, opts GroupOptions) (*GroupQuantResult, error) {
	if opts.Bits < 1 || opts.Bits > 8 {
		return nil, fmt.Errorf("%w: %d-bit group quantization", ErrUnsupportedType, opts.Bits)
	}
	cols := opts.GroupSize
	if cols == -1 {
		cols = data.Dim(-1)
	}
	if cols <= 0 || len(data.Data)%cols != 0 {
		return nil, fmt.Errorf("%w: group size %d does not divide %d elements", ErrShape, opts.GroupSize, len(data.Data))
	}
	ratio := opts.Ratio
	if ratio == 0 {
		ratio = 1
	}

	rows := len(data.Data) / cols
	qr := GroupRange(opts.Bits, opts.Sym, opts.Kind)
	span := float64(qr.Span())
	dt := data.DType

	res := &GroupQuantResult{
		Rows:      rows,
		Cols:      cols,
		Quantized: make([]float64, len(data.Data)),
		Scale:     make([]float64, rows),
		ZeroPoint: make([]float64, rows),
		Range:     qr,
	}
	for i := range rows {
		group := data.Data[i*cols : (i+1)*cols]
		lo, hi := group[0], group[0]
		for _, v := range group[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		rmin := tensor.Cast(dt, float32(float64(lo)*ratio))
		rmax := tensor.Cast(dt, float32(float64(hi)*ratio))

		scale := 1.0
		if opts.Sym {
			if maxRange := max(abs32(rmin), abs32(rmax)); maxRange > 0 {
				scale = float64(tensor.Cast(dt, maxRange*2)) / span
			}
		} else if rmin != rmax {
			scale = float64(tensor.Cast(dt, rmax-rmin)) / span
		}
		if float32(scale) < tinyFloat32 {
			scale = 1
		}

		var zp float64
		switch {
		case opts.Sym && opts.Kind == KindUint:
			zp = float64(int(1) << (opts.Bits - 1))
		case !opts.Sym:
			zp = math.RoundToEven((0 - float64(rmin)) / scale)
			if opts.Kind == KindUint {
				zp = math.Max(0, math.Min(float64(qr.Max), zp))
			}
		}
		res.Scale[i] = scale
		res.ZeroPoint[i] = zp

		out := res.Quantized[i*cols : (i+1)*cols]
		for j, v := range group {
			out[j] = qr.Clamp(math.RoundToEven(float64(v)/scale + zp))
		}
	}
	return res, nil
}

// QDQTensor quantizes then dequantizes data, returning a tensor of the
// original shape that carries the rounding error of the chosen settings.
func QDQTensor(data *tensor.Tensor, opts GroupOptions) (*tensor.Tensor, error) {
	res, err := QuantTensor(data, opts)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(res.Quantized))
	for i := range res.Rows {
		s, zp := res.Scale[i], res.ZeroPoint[i]
		for j, q := range res.Row(i) {
			out[i*res.Cols+j] = float32(s * (q - zp))
		}
	}
	t, err := tensor.New(data.Shape, out)
	if err != nil {
		return nil, err
	}
	t.DType = data.DType
	return t, nil
}

// PadRows zero-pads a (K, N) weight along its first axis to kBlocks*groupSize
// rows. A group size of -1 leaves the weight untouched.
func PadRows(weight *tensor.Tensor, groupSize, kBlocks int) *tensor.Tensor {
	if groupSize == -1 {
		return weight
	}
	return weight.PadRows(kBlocks * groupSize)
}

// KBlocks returns how many groups of groupSize cover k rows.
func KBlocks(k, groupSize int) int {
	if groupSize <= 0 {
		return 1
	}
	return (k-1)/groupSize + 1
}

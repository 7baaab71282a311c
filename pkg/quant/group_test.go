package quant

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/quanta/pkg/tensor"
)

func linspace(lo, hi float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float32(i)/float32(n-1)
	}
	return out
}

func TestQuantTensorTwoGroups(t *testing.T) {
	t.Parallel()

	x, err := tensor.New([]int{64}, linspace(-3, 5, 64))
	require.NoError(t, err)

	res, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 32, Kind: KindInt, Ratio: 1})
	require.NoError(t, err)
	require.Equal(t, 2, res.Rows)
	require.Equal(t, 32, res.Cols)
	assert.NotEqual(t, res.Scale[0], res.Scale[1])
	assert.NotEqual(t, res.ZeroPoint[0], res.ZeroPoint[1])

	for _, q := range res.Quantized {
		assert.GreaterOrEqual(t, q, 0.0)
		assert.LessOrEqual(t, q, 15.0)
		assert.Equal(t, math.Round(q), q)
	}

	back, err := QDQTensor(x, GroupOptions{Bits: 4, GroupSize: 32, Kind: KindInt, Ratio: 1})
	require.NoError(t, err)
	assert.Equal(t, x.Shape, back.Shape)
	for i, v := range x.Data {
		bound := res.Scale[i/32]/2 + 1e-6
		assert.InDelta(t, v, back.Data[i], bound, "element %d", i)
	}
}

func TestQDQErrorBound(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]float32, 8*64)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * 3)
	}
	x, err := tensor.New([]int{8, 64}, data)
	require.NoError(t, err)

	for _, bits := range []int{2, 4, 8} {
		for _, gs := range []int{16, 32, -1} {
			for _, sym := range []bool{false, true} {
				kinds := []Kind{KindInt}
				if sym {
					kinds = append(kinds, KindUint)
				}
				for _, kind := range kinds {
					opts := GroupOptions{Bits: bits, GroupSize: gs, Sym: sym, Kind: kind, Ratio: 1}
					t.Run(fmt.Sprintf("b%d_g%d_sym%v_%s", bits, gs, sym, kind), func(t *testing.T) {
						res, err := QuantTensor(x, opts)
						require.NoError(t, err)
						back, err := QDQTensor(x, opts)
						require.NoError(t, err)
						for i, v := range x.Data {
							s := res.Scale[i/res.Cols]
							assert.LessOrEqual(t, math.Abs(float64(v-back.Data[i])), s/2*(1+1e-6)+1e-6)
						}
					})
				}
			}
		}
	}
}

func TestQuantTensorRepresentableValuesAreStable(t *testing.T) {
	t.Parallel()

	x, err := tensor.New([]int{2, 16}, linspace(-1, 2, 32))
	require.NoError(t, err)
	opts := GroupOptions{Bits: 4, GroupSize: 16, Kind: KindInt, Ratio: 1}

	res, err := QuantTensor(x, opts)
	require.NoError(t, err)

	// Rebuild each group from its own codes and quantize with the same params.
	for i := range res.Rows {
		s, zp := res.Scale[i], res.ZeroPoint[i]
		for j, q := range res.Row(i) {
			v := s * (q - zp)
			again := res.Range.Clamp(math.RoundToEven(v/s + zp))
			assert.Equal(t, q, again, "row %d col %d", i, j)
		}
	}
}

func TestQuantTensorScaleAlwaysPositive(t *testing.T) {
	t.Parallel()

	for _, data := range [][]float32{make([]float32, 32), {2, 2, 2, 2}, {-1, -1, -1, -1}} {
		x, err := tensor.New([]int{len(data)}, data)
		require.NoError(t, err)
		for _, sym := range []bool{false, true} {
			res, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 4, Sym: sym, Ratio: 1})
			require.NoError(t, err)
			for _, s := range res.Scale {
				assert.Greater(t, s, 0.0)
			}
		}
	}
}

func TestQuantTensorSubnormalRange(t *testing.T) {
	t.Parallel()

	x, err := tensor.New([]int{4}, []float32{0, 1e-44, 2e-44, 0})
	require.NoError(t, err)
	for _, sym := range []bool{false, true} {
		for _, kind := range []Kind{KindInt, KindUint} {
			res, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 4, Sym: sym, Kind: kind, Ratio: 1})
			require.NoError(t, err)
			assert.Equal(t, 1.0, res.Scale[0])
			assert.False(t, math.IsNaN(res.ZeroPoint[0]))
			for _, q := range res.Quantized {
				assert.Equal(t, res.ZeroPoint[0], q)
			}
		}
	}
}

func TestQuantTensorZeroPoints(t *testing.T) {
	t.Parallel()

	x, err := tensor.New([]int{4}, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	sym, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 4, Sym: true, Kind: KindUint, Ratio: 1})
	require.NoError(t, err)
	assert.Equal(t, 8.0, sym.ZeroPoint[0])
	assert.Equal(t, QuantizationRange{0, 15}, sym.Range)

	signed, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 4, Sym: true, Kind: KindInt, Ratio: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, signed.ZeroPoint[0])
	assert.Equal(t, QuantizationRange{-8, 7}, signed.Range)

	// all-positive data pushes the unclamped zero point below zero
	asym, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 4, Kind: KindInt, Ratio: 1})
	require.NoError(t, err)
	assert.Equal(t, -5.0, asym.ZeroPoint[0])

	clamped, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 4, Kind: KindUint, Ratio: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, clamped.ZeroPoint[0])
}

func TestGroupRange(t *testing.T) {
	t.Parallel()

	assert.Equal(t, QuantizationRange{-1, 0}, GroupRange(1, true, KindInt))
	assert.Equal(t, QuantizationRange{-2, 1}, GroupRange(2, true, KindInt))
	assert.Equal(t, QuantizationRange{0, 255}, GroupRange(8, false, KindInt))
	assert.Equal(t, QuantizationRange{0, 3}, GroupRange(2, true, KindUint))
}

func TestQuantTensorShapeErrors(t *testing.T) {
	t.Parallel()

	x := tensor.Zeros(3, 10)
	_, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: 32, Ratio: 1})
	require.ErrorIs(t, err, ErrShape)

	res, err := QuantTensor(x, GroupOptions{Bits: 4, GroupSize: -1, Ratio: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 10, res.Cols)

	_, err = QuantTensor(x, GroupOptions{Bits: 9, GroupSize: 10})
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPadRows(t *testing.T) {
	t.Parallel()

	w := tensor.Zeros(40, 3)
	kBlocks := KBlocks(40, 32)
	require.Equal(t, 2, kBlocks)
	assert.Equal(t, []int{64, 3}, PadRows(w, 32, kBlocks).Shape)
	assert.Same(t, w, PadRows(w, -1, 1))
	assert.Equal(t, 1, KBlocks(32, 32))
}

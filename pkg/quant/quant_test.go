package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/quanta/pkg/tensor"
)

func TestRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		qtype  QType
		reduce bool
		sym    bool
		want   QuantizationRange
	}{
		{"uint8", Uint8, false, false, QuantizationRange{0, 255}},
		{"int8", Int8, false, false, QuantizationRange{-128, 127}},
		{"int8 sym", Int8, false, true, QuantizationRange{-127, 127}},
		{"uint8 sym", Uint8, false, true, QuantizationRange{0, 255}},
		{"uint8 reduced", Uint8, true, false, QuantizationRange{0, 127}},
		{"int8 reduced", Int8, true, false, QuantizationRange{-64, 64}},
		{"int8 reduced wins over sym", Int8, true, true, QuantizationRange{-64, 64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Ranges(tt.qtype, tt.reduce, tt.sym)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Less(t, got.Min, got.Max)
		})
	}
}

func TestRangesRejectsUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Ranges(Float8E4M3FN, false, false)
	require.ErrorIs(t, err, ErrUnsupportedType)
	require.ErrorIs(t, err, ErrNotImplemented)

	for _, q := range []QType{Int16, Uint16, Int32, Float} {
		_, err := Ranges(q, false, false)
		require.ErrorIs(t, err, ErrUnsupportedType)
		require.NotErrorIs(t, err, ErrNotImplemented)
	}
}

func TestParseQType(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]QType{"fp32": Float, "bf16": BFloat16, "Float16": Float16, "uint8": Uint8} {
		got, err := ParseQType(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseQType("int4")
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Equal(t, "bfloat16", BFloat16.String())
}

func TestQuantizeDataPerTensor(t *testing.T) {
	t.Parallel()

	r, err := Ranges(Uint8, false, false)
	require.NoError(t, err)

	res, err := QuantizeData(Uint8, []float32{-1, 0, 1, 3}, r, false)
	require.NoError(t, err)
	assert.Equal(t, float32(-1), res.RMin)
	assert.Equal(t, float32(3), res.RMax)
	assert.InDelta(t, 4.0/255, res.Params.Scale, 1e-7)
	assert.Equal(t, 64, res.Params.ZeroPoint)
	assert.Equal(t, 0, res.Quantized[0])
	assert.Equal(t, 255, res.Quantized[3])
}

func TestQuantizeDataPerChannel(t *testing.T) {
	t.Parallel()

	r, err := Ranges(Int8, false, true)
	require.NoError(t, err)

	x, err := tensor.New([]int{2, 2}, []float32{1, -3, 0.25, 4})
	require.NoError(t, err)

	res, err := QuantizeDataPerChannel(Int8, x, 1, r, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, -3}, res.RMin)
	assert.Equal(t, []float32{1, 4}, res.RMax)
	assert.Equal(t, []int{0, 0}, res.Params.ZeroPoint)
	assert.Equal(t, []int{127, -95, 32, 127}, res.Quantized)

	back, err := DequantizePerChannel(res.Quantized, x.Shape, res.Params, 1)
	require.NoError(t, err)
	for i, v := range x.Data {
		c := i % 2
		assert.InDelta(t, v, back.Data[i], float64(res.Params.Scale[c])/2+1e-6)
	}
}

func TestQuantizeArrayRoundsHalfToEven(t *testing.T) {
	t.Parallel()

	got, err := QuantizeArray(Int8, []float32{2.5, 3.5, -2.5, 0.5, 1.5, -0.5}, 1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, -2, 0, 2, 0}, got)

	// the zero point is added after rounding
	got, err = QuantizeArray(Uint8, []float32{2.5, 3.5}, 1, 128, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{130, 132}, got)
}

func TestQuantizeDataSubnormalRange(t *testing.T) {
	t.Parallel()

	r, err := Ranges(Uint8, false, false)
	require.NoError(t, err)

	res, err := QuantizeData(Uint8, []float32{0, 1e-44}, r, false)
	require.NoError(t, err)
	assert.Equal(t, float32(1), res.Params.Scale)
	assert.Equal(t, []int{0, 0}, res.Quantized)
}

func TestPerChannelShapeErrors(t *testing.T) {
	t.Parallel()

	x, err := tensor.New([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	two := ChannelParams{Scale: []float32{1, 1}, ZeroPoint: []int{0, 0}}
	three := ChannelParams{Scale: []float32{1, 1, 1}, ZeroPoint: []int{0, 0, 0}}
	ragged := ChannelParams{Scale: []float32{1, 1, 1}, ZeroPoint: []int{0, 0}}
	q := make([]int, 6)

	tests := []struct {
		name string
		p    ChannelParams
		axis int
	}{
		{"too few channels", two, 1},
		{"too many channels", three, 0},
		{"zero points short", ragged, 1},
		{"axis past rank", three, 2},
		{"negative axis past rank", two, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := QuantizeArrayPerChannel(Int8, x, tt.axis, tt.p, nil)
			require.ErrorIs(t, err, ErrShape)
			_, err = DequantizePerChannel(q, x.Shape, tt.p, tt.axis)
			require.ErrorIs(t, err, ErrShape)
		})
	}

	// matching params on a negative axis are accepted
	_, err = QuantizeArrayPerChannel(Int8, x, -1, three, nil)
	require.NoError(t, err)
	_, err = DequantizePerChannel(q, x.Shape, two, -2)
	require.NoError(t, err)
}

package algo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
	"github.com/samcharles93/quanta/pkg/woq"
)

func weight(t *testing.T, name string, k, n int) (*graph.Initializer, *tensor.Tensor) {
	t.Helper()
	data := make([]float32, k*n)
	for i := range data {
		data[i] = float32(i)/float32(len(data))*2 - 1
	}
	w, err := tensor.New([]int{k, n}, data)
	require.NoError(t, err)
	init, err := graph.FromTensor(name, w)
	require.NoError(t, err)
	return init, w
}

func mlp(t *testing.T, k, n int) (*graph.Graph, *tensor.Tensor) {
	t.Helper()
	w1, w := weight(t, "w1", k, n)
	return &graph.Graph{
		Name: "mlp",
		Nodes: []*graph.Node{
			{Name: "fc1", OpType: "MatMul", Inputs: []string{"x", "w1"}, Outputs: []string{"h"}},
			{Name: "act", OpType: "Relu", Inputs: []string{"h"}, Outputs: []string{"y"}},
		},
		Initializers: []*graph.Initializer{w1},
	}, w
}

func run(t *testing.T, g *graph.Graph, opts Options) *Report {
	t.Helper()
	a, err := NewRTN(opts)
	require.NoError(t, err)
	rep, err := a.Quantize(context.Background(), g)
	require.NoError(t, err)
	return rep
}

func TestRTNPacksNBits(t *testing.T) {
	t.Parallel()
	const k, n, gs = 40, 8, 32
	g, w := mlp(t, k, n)

	opts := DefaultOptions()
	opts.Caps = woq.RuntimeCaps{Version: "1.17.0"}
	opts.AccuracyLevel = 4
	rep := run(t, g, opts)

	assert.Equal(t, map[string]int{woq.OpMatMulNBits: 1}, rep.Quantized)
	assert.Equal(t, []string{"w1"}, rep.Removed)

	node := g.Nodes[0]
	assert.Equal(t, "fc1_Q4", node.Name)
	assert.Equal(t, woq.OpMatMulNBits, node.OpType)
	assert.Equal(t, []string{"x", "w1_Q4G32", "w1_scale", "w1_zp"}, node.Inputs)
	level, ok := node.Attr("accuracy_level")
	require.True(t, ok)
	assert.Equal(t, int64(4), level.I)
	_, ok = g.Initializer("w1")
	assert.False(t, ok)

	kBlocks := 2
	qw, ok := g.Initializer("w1_Q4G32")
	require.True(t, ok)
	assert.Equal(t, []int64{n, int64(kBlocks), gs / 2}, qw.Dims)
	scaleInit, ok := g.Initializer("w1_scale")
	require.True(t, ok)
	scale, err := graph.ToTensor(scaleInit)
	require.NoError(t, err)
	zpInit, ok := g.Initializer("w1_zp")
	require.True(t, ok)
	zp := woq.UnpackZeroPoints(zpInit.RawData, n*kBlocks, 4)

	// dequantize and compare against the original weight
	for col := range n {
		for b := range kBlocks {
			row := col*kBlocks + b
			s := scale.Data[row]
			codes := woq.UnpackNBitsRow(qw.RawData[row*gs/2:(row+1)*gs/2], 4, gs)
			for j, c := range codes {
				kk := b*gs + j
				if kk >= k {
					break
				}
				got := s * (float32(c) - float32(zp[row]))
				assert.InDelta(t, w.Data[kk*n+col], got, float64(s)+1e-5, "k=%d n=%d", kk, col)
			}
		}
	}
}

func TestRTNFallsBackToQDQ(t *testing.T) {
	t.Parallel()
	const k, n = 64, 4
	g, w := mlp(t, k, n)

	opts := DefaultOptions()
	opts.GroupSize = -1
	opts.Scheme = SchemeSym
	rep := run(t, g, opts)

	assert.Equal(t, map[string]int{LayoutQDQName: 1}, rep.Quantized)
	node := g.Nodes[0]
	assert.Equal(t, "fc1", node.Name)
	assert.Equal(t, "MatMul", node.OpType)
	assert.Equal(t, "w1_Q4G64", node.Input(1))

	qinit, ok := g.Initializer("w1_Q4G64")
	require.True(t, ok)
	assert.Equal(t, []int64{k, n}, qinit.Dims)
	q, err := graph.ToTensor(qinit)
	require.NoError(t, err)
	// one group per column over [-1, 1], 4-bit symmetric
	for i, v := range q.Data {
		assert.InDelta(t, w.Data[i], v, 2.0/15/2+1e-3, "index %d", i)
	}
	_, ok = g.Initializer("w1")
	assert.False(t, ok)
}

func TestRTNLegacyLayoutOverride(t *testing.T) {
	t.Parallel()
	g, _ := mlp(t, 32, 4)

	opts := DefaultOptions()
	opts.Layout = "fpq4"
	rep := run(t, g, opts)

	assert.Equal(t, map[string]int{woq.OpMatMulFpQ4: 1}, rep.Quantized)
	node := g.Nodes[0]
	assert.Equal(t, woq.OpMatMulFpQ4, node.OpType)
	assert.Equal(t, []string{"x", "w1_Q4G32", "w1_shape"}, node.Inputs)
	qw, ok := g.Initializer("w1_Q4G32")
	require.True(t, ok)
	assert.Len(t, qw.RawData, 4*woq.LegacyLayout{}.BlobSize(32, true))
}

func TestRTNSharedWeight(t *testing.T) {
	t.Parallel()

	build := func() *graph.Graph {
		w, _ := weight(t, "w", 32, 4)
		return &graph.Graph{
			Nodes: []*graph.Node{
				{Name: "a", OpType: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"ya"}},
				{Name: "b", OpType: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"yb"}},
			},
			Initializers: []*graph.Initializer{w},
		}
	}

	opts := DefaultOptions()
	opts.Caps = woq.RuntimeCaps{Version: "1.18.0"}

	g := build()
	rep := run(t, g, opts)
	assert.Equal(t, 2, rep.Total())
	assert.Equal(t, []string{"w"}, rep.Removed)
	names := make([]string, 0, len(g.Initializers))
	for _, init := range g.Initializers {
		names = append(names, init.Name)
	}
	assert.ElementsMatch(t, []string{"w_scale", "w_zp", "w_Q4G32"}, names)

	g = build()
	opts.Exclude = []string{"b"}
	rep = run(t, g, opts)
	assert.Equal(t, 1, rep.Total())
	assert.Empty(t, rep.Removed)
	assert.Equal(t, []Skip{{Node: "b", Reason: "excluded"}}, rep.Skipped)
	_, ok := g.Initializer("w")
	assert.True(t, ok)
}

func TestRTNSkipsIneligibleNodes(t *testing.T) {
	t.Parallel()
	w3 := &graph.Initializer{Name: "w3", DataType: quant.Float, Dims: graph.Dims(2, 2, 2), RawData: make([]byte, 32)}
	wi := &graph.Initializer{Name: "wi", DataType: quant.Int8, Dims: graph.Dims(2, 2), RawData: make([]byte, 4)}
	g := &graph.Graph{
		Nodes: []*graph.Node{
			{Name: "dyn", OpType: "MatMul", Inputs: []string{"x", "y"}, Outputs: []string{"a"}},
			{Name: "rank3", OpType: "MatMul", Inputs: []string{"x", "w3"}, Outputs: []string{"b"}},
			{Name: "int", OpType: "MatMul", Inputs: []string{"x", "wi"}, Outputs: []string{"c"}},
			{Name: "gemm", OpType: "Gemm", Inputs: []string{"x", "w3"}, Outputs: []string{"d"}},
		},
		Initializers: []*graph.Initializer{w3, wi},
	}

	rep := run(t, g, DefaultOptions())
	assert.Zero(t, rep.Total())
	require.Len(t, rep.Skipped, 3)
	assert.Equal(t, "dyn", rep.Skipped[0].Node)
	assert.Contains(t, rep.Skipped[1].Reason, "rank 3")
	assert.Empty(t, rep.Failed)
	assert.Len(t, g.Initializers, 2)
}

func TestRTNNodeFailure(t *testing.T) {
	t.Parallel()

	build := func() *graph.Graph {
		good, _ := weight(t, "good", 32, 2)
		bad := &graph.Initializer{Name: "bad", DataType: quant.Float, Dims: graph.Dims(32, 2), RawData: make([]byte, 7)}
		return &graph.Graph{
			Nodes: []*graph.Node{
				{Name: "ok", OpType: "MatMul", Inputs: []string{"x", "good"}, Outputs: []string{"a"}},
				{Name: "broken", OpType: "MatMul", Inputs: []string{"x", "bad"}, Outputs: []string{"b"}},
			},
			Initializers: []*graph.Initializer{good, bad},
		}
	}

	rep := run(t, build(), DefaultOptions())
	assert.Equal(t, 1, rep.Total())
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "broken", rep.Failed[0].Node)

	opts := DefaultOptions()
	opts.Strict = true
	a, err := NewRTN(opts)
	require.NoError(t, err)
	g := build()
	_, err = a.Quantize(context.Background(), g)
	require.ErrorIs(t, err, tensor.ErrShape)
	assert.Equal(t, "ok", g.Nodes[0].Name, "graph untouched on failure")
	assert.Equal(t, "good", g.Nodes[0].Input(1))
}

func TestRTNCancelled(t *testing.T) {
	t.Parallel()
	g, _ := mlp(t, 32, 4)
	a, err := NewRTN(DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Quantize(ctx, g)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "w1", g.Nodes[0].Input(1))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry()
	assert.Equal(t, []string{RTNName}, r.Names())

	a, err := r.New(RTNName, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, RTNName, a.Name())

	_, err = r.New("gptq", DefaultOptions())
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	require.Error(t, r.Register(RTNName, NewRTN))
	require.Error(t, r.Register("", NewRTN))
	assert.Panics(t, func() { r.MustRegister(RTNName, NewRTN) })
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{"bits", func(o *Options) { o.Bits = 9 }},
		{"group size", func(o *Options) { o.GroupSize = 0 }},
		{"scheme", func(o *Options) { o.Scheme = "nf4" }},
		{"layout", func(o *Options) { o.Layout = "gguf" }},
		{"ratio", func(o *Options) { o.Ratios = map[string]float64{"w": 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := NewRTN(opts)
			require.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestHandlerFor(t *testing.T) {
	t.Parallel()
	_, err := HandlerFor("MatMul")
	require.NoError(t, err)
	for _, op := range []string{"Gemm", "FusedMatMul"} {
		_, err = HandlerFor(op)
		require.ErrorIs(t, err, ErrUnsupportedOp)
	}
}

package algo

import (
	"errors"
	"fmt"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
	"github.com/samcharles93/quanta/pkg/woq"
)

// ErrNotEligible marks a node the handler leaves alone.
var ErrNotEligible = errors.New("algo: node not eligible")

// LayoutQDQName is the Report key for weights fake-quantized in place.
const LayoutQDQName = "QDQ"

// Plan is the rewrite computed for one node. Plans are built concurrently
// from a read-only graph and applied one at a time.
type Plan struct {
	Node   *graph.Node
	Weight string
	// Layout is the packed op type, or LayoutQDQName.
	Layout string
	// Replacement is set for packed layouts.
	Replacement *woq.Replacement
	// QDQWeight is set for the fake-quantized fallback.
	QDQWeight *graph.Initializer
}

// Bytes is the size of the initializer data the plan adds.
func (p *Plan) Bytes() int {
	if p.QDQWeight != nil {
		return len(p.QDQWeight.RawData)
	}
	n := 0
	for _, init := range p.Replacement.Initializers {
		n += len(init.RawData)
	}
	return n
}

// Apply rewrites g. It reports whether the original weight was removed.
func (p *Plan) Apply(g *graph.Graph) (bool, error) {
	if p.Replacement != nil {
		if err := g.ReplaceNode(p.Node, p.Replacement.Node); err != nil {
			return false, err
		}
		g.AddInitializers(p.Replacement.Initializers...)
	} else {
		g.AddInitializer(p.QDQWeight)
		p.Node.Inputs[1] = p.QDQWeight.Name
	}
	if g.InitializerShareCount(p.Weight) == 0 {
		return g.RemoveInitializer(p.Weight), nil
	}
	return false, nil
}

// OpHandler computes the plan for one node. It must not modify g.
// Ineligible nodes return an error wrapping ErrNotEligible.
type OpHandler func(g *graph.Graph, n *graph.Node, opts *Options) (*Plan, error)

// OpHandlers maps op types to their weight-only handler. Gemm and FusedMatMul
// carry transposition and bias semantics the packed kernels do not, so only
// MatMul is listed.
var OpHandlers = map[string]OpHandler{
	"MatMul": planMatMul,
}

// HandlerFor looks up the handler for an op type.
func HandlerFor(opType string) (OpHandler, error) {
	h, ok := OpHandlers[opType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, opType)
	}
	return h, nil
}

func notEligible(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotEligible}, args...)...)
}

func planMatMul(g *graph.Graph, n *graph.Node, opts *Options) (*Plan, error) {
	name := n.Input(1)
	init, ok := g.Initializer(name)
	if !ok {
		return nil, notEligible("weight %q is not a constant", name)
	}
	if !init.IsFloat() {
		return nil, notEligible("weight %q is %s", name, init.DataType)
	}
	if len(init.Dims) != 2 {
		return nil, notEligible("weight %q has rank %d", name, len(init.Dims))
	}

	w, err := graph.ToTensor(init)
	if err != nil {
		return nil, err
	}
	k, cols := w.Shape[0], w.Shape[1]
	gs := opts.GroupSize
	if gs == -1 {
		gs = k
	}
	kBlocks := quant.KBlocks(k, gs)
	wt, err := quant.PadRows(w, gs, kBlocks).Transpose2D()
	if err != nil {
		return nil, err
	}

	group := quant.GroupOptions{
		Bits:      opts.Bits,
		GroupSize: gs,
		Sym:       opts.sym(),
		Ratio:     opts.ratio(name),
	}

	if layout, ok := opts.layout(gs); ok {
		group.Kind = quant.KindUint
		res, err := quant.QuantTensor(wt, group)
		if err != nil {
			return nil, err
		}
		scale := make([]float32, len(res.Scale))
		for i, s := range res.Scale {
			scale[i] = tensor.Cast(w.DType, float32(s))
		}
		var zp []uint8
		if !group.Sym {
			zp = res.ZeroPointUint8()
		}
		rep, err := woq.Pack(layout, woq.PackRequest{
			Node:          n,
			WeightShape:   [2]int{k, cols},
			Bits:          opts.Bits,
			GroupSize:     gs,
			KBlocks:       kBlocks,
			QWeight:       res.Uint8(),
			Scale:         scale,
			ScaleType:     init.DataType,
			ZeroPoint:     zp,
			AccuracyLevel: opts.AccuracyLevel,
		})
		if err != nil {
			return nil, err
		}
		return &Plan{Node: n, Weight: name, Layout: layout.OpType(), Replacement: rep}, nil
	}

	group.Kind = quant.KindInt
	qdq, err := quant.QDQTensor(wt, group)
	if err != nil {
		return nil, err
	}
	qdq, err = qdq.Reshape(cols, -1)
	if err != nil {
		return nil, err
	}
	back, err := qdq.Transpose2D()
	if err != nil {
		return nil, err
	}
	back, err = back.HeadRows(k)
	if err != nil {
		return nil, err
	}
	qinit, err := graph.FromTensor(woq.QWeightName(name, opts.Bits, gs), back)
	if err != nil {
		return nil, err
	}
	return &Plan{Node: n, Weight: name, Layout: LayoutQDQName, QDQWeight: qinit}, nil
}

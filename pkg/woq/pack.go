package woq

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
)

// PackRequest carries one group-quantized MatMul weight.
type PackRequest struct {
	// Node is the MatMul being replaced. Inputs[1] is the weight.
	Node *graph.Node
	// WeightShape is the original (K, N).
	WeightShape [2]int
	Bits        int
	GroupSize   int
	KBlocks     int
	// QWeight has one row per group, GroupSize codes each.
	QWeight [][]uint8
	// Scale has one entry per row of QWeight.
	Scale     []float32
	ScaleType quant.QType
	// ZeroPoint is nil for symmetric weights.
	ZeroPoint     []uint8
	AccuracyLevel int
}

func (r *PackRequest) validate() error {
	if r.Node == nil || len(r.Node.Inputs) < 2 {
		return fmt.Errorf("%w: node needs an activation and a weight input", quant.ErrShape)
	}
	if r.GroupSize <= 0 || r.GroupSize%2 != 0 {
		return fmt.Errorf("%w: group size %d must be positive and even", quant.ErrShape, r.GroupSize)
	}
	if r.Bits < 1 || r.Bits > 8 {
		return fmt.Errorf("%w: %d-bit weights", quant.ErrUnsupportedType, r.Bits)
	}
	if len(r.Scale) != len(r.QWeight) {
		return fmt.Errorf("%w: %d scales for %d rows", quant.ErrShape, len(r.Scale), len(r.QWeight))
	}
	if r.ZeroPoint != nil && len(r.ZeroPoint) != len(r.QWeight) {
		return fmt.Errorf("%w: %d zero points for %d rows", quant.ErrShape, len(r.ZeroPoint), len(r.QWeight))
	}
	for i, row := range r.QWeight {
		if len(row) != r.GroupSize {
			return fmt.Errorf("%w: row %d has %d codes, want %d", quant.ErrShape, i, len(row), r.GroupSize)
		}
	}
	return nil
}

// Pack builds the replacement node and its constants for layout.
func Pack(layout Layout, req PackRequest) (*Replacement, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	switch l := layout.(type) {
	case LegacyLayout:
		return packLegacy(l, &req)
	case NBitsLayout:
		return packNBits(l, &req)
	default:
		return nil, fmt.Errorf("woq: unknown layout %T", layout)
	}
}

func newNode(req *PackRequest, opType string, inputs []string, attrs []graph.Attribute) *graph.Node {
	return &graph.Node{
		Name:       NodeName(req.Node.Name, req.Bits),
		OpType:     opType,
		Domain:     graph.DomainMicrosoft,
		Inputs:     inputs,
		Outputs:    slices.Clone(req.Node.Outputs),
		Attributes: attrs,
	}
}

func packLegacy(l LegacyLayout, req *PackRequest) (*Replacement, error) {
	weight := req.Node.Inputs[1]
	hasZP := req.ZeroPoint != nil
	blob := l.BlobSize(req.GroupSize, hasZP)
	offset := 4
	if hasZP {
		offset = 5
	}
	half := req.GroupSize / 2

	packed := make([]byte, len(req.QWeight)*blob)
	for i, row := range req.QWeight {
		b := packed[i*blob : (i+1)*blob]
		binary.LittleEndian.PutUint32(b, math.Float32bits(req.Scale[i]))
		if hasZP {
			b[4] = req.ZeroPoint[i]
		}
		for j := range half {
			b[offset+j] = row[j] | row[j+half]<<req.Bits
		}
	}

	shapeName := weight + "_shape"
	shape := make([]byte, 16)
	binary.LittleEndian.PutUint64(shape, uint64(int64(req.WeightShape[0])))
	binary.LittleEndian.PutUint64(shape[8:], uint64(int64(req.WeightShape[1])))

	qName := QWeightName(weight, req.Bits, req.GroupSize)
	blkQuantType := int64(0)
	if hasZP {
		blkQuantType = 1
	}
	node := newNode(req, OpMatMulFpQ4,
		[]string{req.Node.Inputs[0], qName, shapeName},
		[]graph.Attribute{graph.IntAttr("blk_quant_type", blkQuantType)},
	)
	return &Replacement{
		Node: node,
		Initializers: []*graph.Initializer{
			{Name: shapeName, DataType: quant.Int64, Dims: graph.Dims(2), RawData: shape},
			{Name: qName, DataType: quant.Uint8, Dims: graph.Dims(len(packed)), RawData: packed},
		},
	}, nil
}

func packNBits(l NBitsLayout, req *PackRequest) (*Replacement, error) {
	weight := req.Node.Inputs[1]
	rows := len(req.QWeight)
	if req.KBlocks <= 0 || rows%req.KBlocks != 0 {
		return nil, fmt.Errorf("%w: %d rows do not split into %d blocks", quant.ErrShape, rows, req.KBlocks)
	}
	blob := l.BlobSize(req.GroupSize, req.Bits)

	packed := make([]byte, rows*blob)
	for i, row := range req.QWeight {
		b := packed[i*blob : (i+1)*blob]
		if req.Bits > 4 {
			copy(b, row)
			continue
		}
		for k := 0; k < req.GroupSize; k += 2 {
			b[k/2] = row[k] | row[k+1]<<4
		}
	}

	dt, err := quant.TensorDType(req.ScaleType)
	if err != nil {
		return nil, err
	}
	scaleRaw, err := tensor.EncodeValues(dt, req.Scale)
	if err != nil {
		return nil, err
	}

	qName := QWeightName(weight, req.Bits, req.GroupSize)
	scaleName := weight + "_scale"
	outer := rows / req.KBlocks
	scaleInit := &graph.Initializer{
		Name:     scaleName,
		DataType: req.ScaleType,
		Dims:     graph.Dims(outer, req.KBlocks),
		RawData:  scaleRaw,
	}

	inputs := []string{req.Node.Inputs[0], qName, scaleName}
	inits := []*graph.Initializer{scaleInit}
	if req.ZeroPoint != nil {
		zpName := weight + "_zp"
		zp, dims := packZeroPoints(req.ZeroPoint, req.Bits, req.KBlocks)
		inits = append(inits, &graph.Initializer{Name: zpName, DataType: quant.Uint8, Dims: dims, RawData: zp})
		inputs = append(inputs, zpName)
	}

	attrs := []graph.Attribute{
		graph.IntAttr("K", int64(req.WeightShape[0])),
		graph.IntAttr("N", int64(req.WeightShape[1])),
		graph.IntAttr("bits", int64(req.Bits)),
		graph.IntAttr("block_size", int64(req.GroupSize)),
	}
	if req.AccuracyLevel > 0 && l.EmitAccuracyLevel {
		attrs = append(attrs, graph.IntAttr("accuracy_level", int64(req.AccuracyLevel)))
	}

	inits = append(inits, &graph.Initializer{
		Name:     qName,
		DataType: quant.Uint8,
		Dims:     graph.Dims(outer, req.KBlocks, blob),
		RawData:  packed,
	})
	return &Replacement{Node: newNode(req, OpMatMulNBits, inputs, attrs), Initializers: inits}, nil
}

// packZeroPoints stores one byte per group above 4 bits. At 4 bits and below
// two zero points share a byte starting from 0x88: odd indices fill the high
// nibble and even indices the low nibble.
func packZeroPoints(zp []uint8, bits, kBlocks int) ([]byte, []int64) {
	n := len(zp)
	if bits > 4 {
		return slices.Clone(zp), graph.Dims(1, n)
	}
	out := make([]byte, (n+1)/2)
	for i := range out {
		out[i] = 0x88
	}
	for i := range n / kBlocks {
		for j := range kBlocks {
			idx := i*kBlocks + j
			v := zp[idx]
			if idx&1 == 1 {
				out[idx/2] = out[idx/2]&0x0F | v<<4
			} else {
				out[idx/2] = out[idx/2]&0xF0 | v
			}
		}
	}
	return out, graph.Dims(len(out))
}

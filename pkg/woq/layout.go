package woq

import (
	"fmt"

	"github.com/samcharles93/quanta/internal/graph"
)

const (
	OpMatMulFpQ4  = "MatMulFpQ4"
	OpMatMulNBits = "MatMulNBits"
)

// Layout is one of LegacyLayout or NBitsLayout.
type Layout interface {
	OpType() string
	isLayout()
}

// LegacyLayout is MatMulFpQ4: one blob per row holding the float32 scale, an
// optional zero-point byte and the nibble-packed weights.
type LegacyLayout struct{}

// NBitsLayout is MatMulNBits: packed weights with separate scale and
// zero-point tensors.
type NBitsLayout struct {
	// EmitAccuracyLevel allows the accuracy_level attribute.
	EmitAccuracyLevel bool
}

func (LegacyLayout) OpType() string { return OpMatMulFpQ4 }
func (NBitsLayout) OpType() string  { return OpMatMulNBits }

func (LegacyLayout) isLayout() {}
func (NBitsLayout) isLayout()  {}

// BlobSize is 4 scale bytes, the optional zero-point byte and gs/2 nibbles.
func (LegacyLayout) BlobSize(groupSize int, hasZP bool) int {
	n := groupSize/2 + 4
	if hasZP {
		n++
	}
	return n
}

// BlobSize is gs/2 for bits <= 4 and one byte per weight above that.
//
// Only the 4-bit form is selected automatically. The byte-per-weight form is
// reached only by forcing the layout (--layout nbits with --bits 5..8); it is
// an extension that no runtime has been checked against.
func (NBitsLayout) BlobSize(groupSize, bits int) int {
	if bits > 4 {
		return groupSize
	}
	return groupSize / 2
}

// ParseLayout maps "fpq4"/"legacy" and "nbits" to a layout.
func ParseLayout(name string, caps RuntimeCaps) (Layout, error) {
	switch name {
	case "fpq4", "legacy", OpMatMulFpQ4:
		return LegacyLayout{}, nil
	case "nbits", OpMatMulNBits:
		return NBitsLayout{EmitAccuracyLevel: caps.SupportsAccuracyLevel()}, nil
	default:
		return nil, fmt.Errorf("woq: unknown layout %q", name)
	}
}

// Replacement is a packed node and the constants it reads.
type Replacement struct {
	Node         *graph.Node
	Initializers []*graph.Initializer
}

// QWeightName is the packed weight's name: <w>_Q<bits>G<gs>.
func QWeightName(weight string, bits, groupSize int) string {
	return fmt.Sprintf("%s_Q%dG%d", weight, bits, groupSize)
}

// NodeName is <name>_Q<bits>, or _Q<bits> for unnamed nodes.
func NodeName(name string, bits int) string {
	return fmt.Sprintf("%s_Q%d", name, bits)
}

// Package graph holds the computation graph the quantizer rewrites: nodes with
// named inputs and outputs, constant initializers, and the graph's declared
// inputs and outputs.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/quanta/pkg/quant"
)

var ErrNotFound = errors.New("graph: not found")

// DomainMicrosoft is the operator domain of the packed weight-only matmuls.
const DomainMicrosoft = "com.microsoft"

// QuantOpNameSuffix marks nodes produced by operator-level quantization.
const QuantOpNameSuffix = "_quant"

// AttrType follows the ONNX AttributeProto numbering.
type AttrType int

const (
	AttrFloat   AttrType = 1
	AttrInt     AttrType = 2
	AttrString  AttrType = 3
	AttrFloats  AttrType = 6
	AttrInts    AttrType = 7
	AttrStrings AttrType = 8
)

type Attribute struct {
	Name    string    `json:"name"`
	Type    AttrType  `json:"type"`
	F       float32   `json:"f,omitempty"`
	I       int64     `json:"i,omitempty"`
	S       string    `json:"s,omitempty"`
	Floats  []float32 `json:"floats,omitempty"`
	Ints    []int64   `json:"ints,omitempty"`
	Strings []string  `json:"strings,omitempty"`
}

// IntAttr builds an integer attribute.
func IntAttr(name string, v int64) Attribute {
	return Attribute{Name: name, Type: AttrInt, I: v}
}

type Node struct {
	Name       string      `json:"name"`
	OpType     string      `json:"op_type"`
	Domain     string      `json:"domain,omitempty"`
	Inputs     []string    `json:"inputs"`
	Outputs    []string    `json:"outputs"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attr returns the named attribute.
func (n *Node) Attr(name string) (Attribute, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// IsBTransposed reports whether a Gemm-style node sets transB.
func (n *Node) IsBTransposed() bool {
	a, ok := n.Attr("transB")
	return ok && a.I > 0
}

// Input returns input i or "" when absent.
func (n *Node) Input(i int) string {
	if i < 0 || i >= len(n.Inputs) {
		return ""
	}
	return n.Inputs[i]
}

// Initializer is a named constant tensor. RawData is little-endian and is
// stored outside the manifest.
type Initializer struct {
	Name     string      `json:"name"`
	DataType quant.QType `json:"data_type"`
	Dims     []int64     `json:"dims"`
	RawData  []byte      `json:"-"`
}

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name     string      `json:"name"`
	ElemType quant.QType `json:"elem_type"`
	Shape    []int64     `json:"shape,omitempty"`
}

type Graph struct {
	Name         string            `json:"name"`
	Nodes        []*Node           `json:"nodes"`
	Initializers []*Initializer    `json:"initializers"`
	Inputs       []ValueInfo       `json:"inputs"`
	Outputs      []ValueInfo       `json:"outputs"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Initializer returns the initializer called name.
func (g *Graph) Initializer(name string) (*Initializer, bool) {
	for _, init := range g.Initializers {
		if init.Name == name {
			return init, true
		}
	}
	return nil, false
}

// AddInitializer appends init unless an initializer of the same name exists.
// It reports whether init was added.
func (g *Graph) AddInitializer(init *Initializer) bool {
	if _, ok := g.Initializer(init.Name); ok {
		return false
	}
	g.Initializers = append(g.Initializers, init)
	return true
}

// AddInitializers adds each of inits, skipping names already present.
func (g *Graph) AddInitializers(inits ...*Initializer) {
	for _, init := range inits {
		g.AddInitializer(init)
	}
}

// RemoveInitializer drops the initializer called name.
func (g *Graph) RemoveInitializer(name string) bool {
	i := slices.IndexFunc(g.Initializers, func(init *Initializer) bool { return init.Name == name })
	if i < 0 {
		return false
	}
	g.Initializers = slices.Delete(g.Initializers, i, i+1)
	return true
}

// Consumers returns the nodes that read name, in graph order.
func (g *Graph) Consumers(name string) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if slices.Contains(n.Inputs, name) {
			out = append(out, n)
		}
	}
	return out
}

// InitializerShareCount returns how many node inputs reference name.
func (g *Graph) InitializerShareCount(name string) int {
	count := 0
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in == name {
				count++
			}
		}
	}
	return count
}

// Node returns the node called name.
func (g *Graph) Node(name string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// ReplaceNode puts repl where old was, keeping topological order.
func (g *Graph) ReplaceNode(old, repl *Node) error {
	i := slices.Index(g.Nodes, old)
	if i < 0 {
		return fmt.Errorf("%w: node %q", ErrNotFound, old.Name)
	}
	g.Nodes[i] = repl
	return nil
}

// SplitSharedBias gives every Conv or FusedConv that shares a bias
// initializer with an earlier node its own copy. It returns the number of
// copies made.
func (g *Graph) SplitSharedBias() int {
	first := make(map[string]*Node)
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if _, ok := first[in]; !ok {
				first[in] = n
			}
		}
	}

	split := 0
	for _, n := range g.Nodes {
		if n.OpType != "Conv" && n.OpType != "FusedConv" {
			continue
		}
		bias := n.Input(2)
		if bias == "" || first[bias] == n {
			continue
		}
		src, ok := g.Initializer(bias)
		if !ok {
			continue
		}
		name := bias + "_nc_split_" + n.Name
		g.AddInitializer(&Initializer{
			Name:     name,
			DataType: src.DataType,
			Dims:     slices.Clone(src.Dims),
			RawData:  slices.Clone(src.RawData),
		})
		n.Inputs[2] = name
		split++
	}
	return split
}

// RemoveInitFromInputs drops graph inputs that are backed by an initializer.
func (g *Graph) RemoveInitFromInputs() int {
	before := len(g.Inputs)
	g.Inputs = slices.DeleteFunc(g.Inputs, func(v ValueInfo) bool {
		_, ok := g.Initializer(v.Name)
		return ok
	})
	return before - len(g.Inputs)
}

// OriginalName strips the operator-quantization suffix from a node name.
func OriginalName(n *Node) string {
	return strings.TrimSuffix(n.Name, QuantOpNameSuffix)
}

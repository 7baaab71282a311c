// tiny_graph writes a small MatMul chain for trying the quantize and inspect
// commands by hand.
//
//	go run ./scripts/tiny_graph.go -out /tmp/tiny.json -layers 3 -k 64 -n 32
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
)

func main() {
	out := flag.String("out", "tiny.json", "output manifest path")
	layers := flag.Int("layers", 2, "number of MatMul layers")
	k := flag.Int("k", 64, "input features")
	n := flag.Int("n", 64, "output features of each layer")
	seed := flag.Uint64("seed", 1, "weight seed")
	flag.Parse()

	if err := run(*out, *layers, *k, *n, *seed); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(out string, layers, k, n int, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	g := &graph.Graph{
		Name:   "tiny",
		Inputs: []graph.ValueInfo{{Name: "x", ElemType: quant.Float, Shape: []int64{1, int64(k)}}},
	}

	prev, in := "x", k
	for i := range layers {
		data := make([]float32, in*n)
		for j := range data {
			data[j] = float32(rng.NormFloat64() * 0.02)
		}
		w, err := tensor.New([]int{in, n}, data)
		if err != nil {
			return err
		}
		wName := fmt.Sprintf("fc%d.weight", i)
		init, err := graph.FromTensor(wName, w)
		if err != nil {
			return err
		}
		g.Initializers = append(g.Initializers, init)

		y := fmt.Sprintf("fc%d.out", i)
		g.Nodes = append(g.Nodes, &graph.Node{
			Name:    fmt.Sprintf("fc%d", i),
			OpType:  "MatMul",
			Inputs:  []string{prev, wName},
			Outputs: []string{y},
		})
		prev, in = y, n
	}
	g.Outputs = []graph.ValueInfo{{Name: prev, ElemType: quant.Float, Shape: []int64{1, int64(n)}}}

	if err := graph.Save(g, out); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d layers, weights in %s)\n", out, layers, graph.WeightsPath(out))
	return nil
}

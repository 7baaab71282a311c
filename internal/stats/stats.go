// Package stats reports how a graph's operators ended up quantized.
package stats

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/woq"
)

// FP32 is the tag of an operator whose weight was left in float.
const FP32 = "FP32"

var (
	qweightName = regexp.MustCompile(`^.*_Q\d*G\d*$`)
	bitsGroup   = regexp.MustCompile(`_Q(\d*)G(\d*)$`)
)

// Tag returns A32W<bits>G<group> for a weight-only quantized weight name and
// FP32 for anything else.
func Tag(weight string) string {
	if !qweightName.MatchString(weight) {
		return FP32
	}
	m := bitsGroup.FindStringSubmatch(weight)
	return fmt.Sprintf("A32W%sG%s", m[1], m[2])
}

// Row counts one op type's nodes by tag. Counts lines up with Table.Tags.
type Row struct {
	OpType string
	Total  int
	Counts []int
}

// Table is a mixed-precision summary.
type Table struct {
	Header string
	Tags   []string
	Rows   []Row
}

// Columns returns the printed column names.
func (t *Table) Columns() []string {
	return append([]string{"Op Type", "Total"}, t.Tags...)
}

// WeightOnly counts the nodes of each op type in opTypes by the precision of
// their weight. Packed weight-only nodes are counted as MatMul.
func WeightOnly(g *graph.Graph, opTypes []string) *Table {
	counts := make(map[string]map[string]int, len(opTypes))
	for _, op := range opTypes {
		counts[op] = make(map[string]int)
	}
	seen := make(map[string]bool)

	for _, n := range g.Nodes {
		op := n.OpType
		if op == woq.OpMatMulFpQ4 || op == woq.OpMatMulNBits {
			op = "MatMul"
		}
		byTag, ok := counts[op]
		if !ok {
			continue
		}
		tag := Tag(n.Input(1))
		seen[tag] = true
		byTag[tag]++
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == FP32:
			return -1
		case b == FP32:
			return 1
		}
		return strings.Compare(a, b)
	})

	t := &Table{Header: "Mixed Precision Statistics", Tags: tags}
	for _, op := range opTypes {
		row := Row{OpType: op, Counts: make([]int, len(tags))}
		for i, tag := range tags {
			row.Counts[i] = counts[op][tag]
			row.Total += row.Counts[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Write prints the table with aligned columns.
func (t *Table) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\n", t.Header); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns(), "\t"))
	for _, r := range t.Rows {
		cells := []string{r.OpType, fmt.Sprint(r.Total)}
		for _, c := range r.Counts {
			cells = append(cells, fmt.Sprint(c))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// Package algo drives weight-only quantization over a whole graph.
//
// Algorithms are looked up by name in a Registry built at start-up. Each one
// walks the graph, asks the op handler table how to rewrite every eligible
// node and applies the result.
package algo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/pkg/woq"
)

var (
	ErrUnknownAlgorithm = errors.New("algo: unknown algorithm")
	ErrUnsupportedOp    = errors.New("algo: unsupported op")
	ErrInvalidOptions   = errors.New("algo: invalid options")
)

// Algorithm rewrites g in place.
type Algorithm interface {
	Name() string
	Quantize(ctx context.Context, g *graph.Graph) (*Report, error)
}

// Scheme names accepted by Options.Scheme.
const (
	SchemeSym  = "sym"
	SchemeAsym = "asym"
)

// Layout names accepted by Options.Layout.
const (
	LayoutAuto = "auto"
	LayoutQDQ  = "qdq"
)

// Options configure a weight-only run.
type Options struct {
	Bits      int
	GroupSize int
	Scheme    string
	// AccuracyLevel is written to MatMulNBits nodes when the runtime takes it.
	AccuracyLevel int
	// Ratios clip the min/max of individual weights, keyed by initializer name.
	Ratios map[string]float64
	Caps   woq.RuntimeCaps
	// Providers are the execution providers the model will run on.
	Providers []string
	// Layout is auto, qdq, or a packed layout name understood by woq.ParseLayout.
	Layout  string
	Workers int
	// Exclude lists node names left in float.
	Exclude []string
	// Strict turns a single node failure into a failed run.
	Strict bool
	Logger logger.Logger
}

// DefaultOptions is 4-bit asymmetric with 32-element groups.
func DefaultOptions() Options {
	return Options{
		Bits:      4,
		GroupSize: 32,
		Scheme:    SchemeAsym,
		Layout:    LayoutAuto,
		Workers:   4,
	}
}

func (o *Options) validate() error {
	if o.Bits < 1 || o.Bits > 8 {
		return fmt.Errorf("%w: bits %d not in [1, 8]", ErrInvalidOptions, o.Bits)
	}
	if o.GroupSize != -1 && o.GroupSize < 1 {
		return fmt.Errorf("%w: group size %d", ErrInvalidOptions, o.GroupSize)
	}
	switch strings.ToLower(o.Scheme) {
	case "", SchemeSym, SchemeAsym:
	default:
		return fmt.Errorf("%w: scheme %q", ErrInvalidOptions, o.Scheme)
	}
	switch strings.ToLower(o.Layout) {
	case "", LayoutAuto, LayoutQDQ:
	default:
		if _, err := woq.ParseLayout(o.Layout, o.Caps); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	for name, r := range o.Ratios {
		if r <= 0 {
			return fmt.Errorf("%w: ratio %v for %s", ErrInvalidOptions, r, name)
		}
	}
	return nil
}

func (o *Options) sym() bool { return strings.EqualFold(o.Scheme, SchemeSym) }

func (o *Options) ratio(weight string) float64 {
	if r, ok := o.Ratios[weight]; ok {
		return r
	}
	return 1
}

func (o *Options) excluded(node string) bool {
	return slices.Contains(o.Exclude, node)
}

func (o *Options) log() logger.Logger {
	if o.Logger == nil {
		return logger.Discard()
	}
	return o.Logger
}

// layout resolves the packed layout for a weight, or false for QDQ.
func (o *Options) layout(groupSize int) (woq.Layout, bool) {
	if groupSize%2 != 0 {
		return nil, false
	}
	switch strings.ToLower(o.Layout) {
	case "", LayoutAuto:
		return woq.SelectLayout(o.Caps, o.Bits, groupSize, o.Providers)
	case LayoutQDQ:
		return nil, false
	default:
		l, err := woq.ParseLayout(o.Layout, o.Caps)
		if err != nil {
			return nil, false
		}
		// the legacy blob only holds 4-bit codes
		if _, legacy := l.(woq.LegacyLayout); legacy && o.Bits != 4 {
			return nil, false
		}
		return l, true
	}
}

// Skip records a node that was left untouched.
type Skip struct {
	Node   string `json:"node"`
	Reason string `json:"reason"`
}

// Report summarizes a run.
type Report struct {
	Algorithm string `json:"algorithm"`
	// Quantized counts rewritten nodes by result layout: MatMulNBits,
	// MatMulFpQ4 or QDQ.
	Quantized map[string]int `json:"quantized"`
	Removed   []string       `json:"removed_initializers,omitempty"`
	Skipped   []Skip         `json:"skipped,omitempty"`
	Failed    []Skip         `json:"failed,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Total is the number of rewritten nodes.
func (r *Report) Total() int {
	n := 0
	for _, c := range r.Quantized {
		n += c
	}
	return n
}

package algo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/quanta/internal/graph"
)

// RTNName is the registry name of round-to-nearest quantization.
const RTNName = "rtn"

var tracer = otel.Tracer("quanta/algo")

// RTN quantizes every eligible weight to the nearest grid point of its group,
// with no calibration data.
type RTN struct {
	opts Options
}

// NewRTN validates opts and returns the algorithm.
func NewRTN(opts Options) (Algorithm, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &RTN{opts: opts}, nil
}

func (r *RTN) Name() string { return RTNName }

type nodeResult struct {
	plan *Plan
	err  error
}

// Quantize plans every candidate node concurrently, then applies the plans in
// graph order. A node that fails is logged and left in float unless Strict is
// set. Cancelling ctx stops the run before any plan is applied.
func (r *RTN) Quantize(ctx context.Context, g *graph.Graph) (*Report, error) {
	ctx, span := tracer.Start(ctx, "rtn.Quantize")
	defer span.End()

	start := time.Now()
	log := r.opts.log().With("algorithm", RTNName)
	report := &Report{Algorithm: RTNName, Quantized: make(map[string]int)}

	var candidates []*graph.Node
	for _, n := range g.Nodes {
		if _, ok := OpHandlers[n.OpType]; !ok {
			continue
		}
		if r.opts.excluded(n.Name) {
			report.Skipped = append(report.Skipped, Skip{Node: n.Name, Reason: "excluded"})
			nodesTotal.WithLabelValues(RTNName, resultSkipped).Inc()
			continue
		}
		candidates = append(candidates, n)
	}
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("bits", r.opts.Bits),
		attribute.Int("group_size", r.opts.GroupSize),
	)

	results := make([]nodeResult, len(candidates))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Workers)
	for i, n := range candidates {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			plan, err := r.planNode(egCtx, g, n)
			if err != nil && r.opts.Strict && !errors.Is(err, ErrNotEligible) {
				return fmt.Errorf("node %s: %w", n.Name, err)
			}
			results[i] = nodeResult{plan: plan, err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsTotal.WithLabelValues(RTNName, "error").Inc()
		return nil, err
	}

	for i, res := range results {
		n := candidates[i]
		switch {
		case errors.Is(res.err, ErrNotEligible):
			log.Debug("skipping node", "node", n.Name, "reason", res.err)
			report.Skipped = append(report.Skipped, Skip{Node: n.Name, Reason: res.err.Error()})
			nodesTotal.WithLabelValues(RTNName, resultSkipped).Inc()
			continue
		case res.err != nil:
			log.Warn("node quantization failed", "node", n.Name, "error", res.err)
			report.Failed = append(report.Failed, Skip{Node: n.Name, Reason: res.err.Error()})
			nodesTotal.WithLabelValues(RTNName, resultFailed).Inc()
			continue
		}

		plan := res.plan
		removed, err := plan.Apply(g)
		if err != nil {
			runsTotal.WithLabelValues(RTNName, "error").Inc()
			return nil, fmt.Errorf("apply %s: %w", n.Name, err)
		}
		if removed {
			report.Removed = append(report.Removed, plan.Weight)
		}
		report.Quantized[plan.Layout]++
		packedBytes.Add(float64(plan.Bytes()))
		if plan.Layout == LayoutQDQName {
			nodesTotal.WithLabelValues(RTNName, resultQDQ).Inc()
		} else {
			nodesTotal.WithLabelValues(RTNName, resultPacked).Inc()
		}
		log.Debug("quantized node", "node", n.Name, "weight", plan.Weight, "layout", plan.Layout)
	}

	report.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("quantized", report.Total()), attribute.Int("failed", len(report.Failed)))
	runsTotal.WithLabelValues(RTNName, "ok").Inc()
	log.Info("weight-only quantization done",
		"quantized", report.Total(),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, nil
}

func (r *RTN) planNode(ctx context.Context, g *graph.Graph, n *graph.Node) (*Plan, error) {
	_, span := tracer.Start(ctx, "rtn.node")
	defer span.End()
	span.SetAttributes(attribute.String("node", n.Name), attribute.String("weight", n.Input(1)))

	timer := time.Now()
	defer func() { nodeDuration.WithLabelValues(RTNName).Observe(time.Since(timer).Seconds()) }()

	plan, err := OpHandlers[n.OpType](g, n, &r.opts)
	if err != nil {
		if !errors.Is(err, ErrNotEligible) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("layout", plan.Layout))
	return plan, nil
}

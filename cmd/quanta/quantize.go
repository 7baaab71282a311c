package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/internal/logger"
	"github.com/samcharles93/quanta/internal/stats"
)

func quantizeCmd() *cli.Command {
	var (
		model, output  string
		algorithm      string
		scheme         string
		layout         string
		runtimeVersion string
		bits           int64
		groupSize      int64
		accuracyLevel  int64
		workers        int64
		providers      []string
		exclude        []string
		ratios         []string
		strict         bool
		splitBias      bool
	)

	defaults := algo.DefaultOptions()

	return &cli.Command{
		Name:  "quantize",
		Usage: "Apply weight-only quantization to a graph",
		Flags: append(modelFlags(&model, &output),
			&cli.StringFlag{
				Name:        "algorithm",
				Aliases:     []string{"a"},
				Usage:       "quantization algorithm",
				Value:       algo.RTNName,
				Destination: &algorithm,
			},
			&cli.Int64Flag{
				Name:        "bits",
				Aliases:     []string{"b"},
				Usage:       "weight bit width (1-8)",
				Value:       int64(defaults.Bits),
				Destination: &bits,
			},
			&cli.Int64Flag{
				Name:        "group-size",
				Aliases:     []string{"g"},
				Usage:       "elements per quantization group along K (-1 for the whole column)",
				Value:       int64(defaults.GroupSize),
				Destination: &groupSize,
			},
			&cli.StringFlag{
				Name:        "scheme",
				Usage:       "sym or asym",
				Value:       defaults.Scheme,
				Destination: &scheme,
			},
			&cli.Int64Flag{
				Name:        "accuracy-level",
				Usage:       "MatMulNBits accuracy_level attribute (0 leaves it unset)",
				Destination: &accuracyLevel,
			},
			&cli.StringFlag{
				Name:        "runtime-version",
				Usage:       "target runtime version, gates the packed layouts",
				Destination: &runtimeVersion,
			},
			&cli.StringSliceFlag{
				Name:        "providers",
				Usage:       "execution providers the model will run on",
				Destination: &providers,
			},
			&cli.StringFlag{
				Name:        "layout",
				Usage:       "auto, qdq, MatMulNBits or MatMulFpQ4",
				Value:       defaults.Layout,
				Destination: &layout,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Aliases:     []string{"j"},
				Usage:       "concurrent weight quantizations",
				Value:       int64(defaults.Workers),
				Destination: &workers,
			},
			&cli.StringSliceFlag{
				Name:        "exclude",
				Usage:       "node names to leave in float",
				Destination: &exclude,
			},
			&cli.StringSliceFlag{
				Name:        "ratio",
				Usage:       "per-weight clip ratio as name=value",
				Destination: &ratios,
			},
			&cli.BoolFlag{
				Name:        "strict",
				Usage:       "fail the run when any node fails to quantize",
				Destination: &strict,
			},
			&cli.BoolFlag{
				Name:        "split-shared-bias",
				Usage:       "duplicate biases shared between nodes before quantizing",
				Destination: &splitBias,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			rs, err := parseRatios(ratios)
			if err != nil {
				return err
			}
			opts := algo.Options{
				Bits:          int(bits),
				GroupSize:     int(groupSize),
				Scheme:        scheme,
				AccuracyLevel: int(accuracyLevel),
				Ratios:        rs,
				Providers:     providers,
				Layout:        layout,
				Workers:       int(workers),
				Exclude:       exclude,
				Strict:        strict,
				Logger:        log,
			}
			opts.Caps.Version = runtimeVersion
			applyQuantizeConfig(cmd, fileConfig, &opts)

			a, err := algo.DefaultRegistry().New(algorithm, opts)
			if err != nil {
				return err
			}

			outPath, defaulted, err := resolveQuantizeOut(model, output, opts.Bits)
			if err != nil {
				return err
			}
			if defaulted {
				_, _ = fmt.Fprintf(os.Stderr, "quantize: writing to %s\n", outPath)
			}

			start := time.Now()
			g, err := graph.Load(model)
			if err != nil {
				return err
			}
			log.Debug("graph loaded", "model", model, "nodes", len(g.Nodes), "initializers", len(g.Initializers), "duration", time.Since(start))
			if splitBias {
				if n := g.SplitSharedBias(); n > 0 {
					log.Info("split shared biases", "count", n)
				}
			}

			if n := g.RemoveInitFromInputs(); n > 0 {
				log.Debug("dropped initializer-backed graph inputs", "count", n)
			}

			report, err := a.Quantize(ctx, g)
			if err != nil {
				return err
			}
			if err := graph.Save(g, outPath); err != nil {
				return err
			}

			log.Info("quantization done",
				"algorithm", report.Algorithm,
				"quantized", report.Total(),
				"skipped", len(report.Skipped),
				"failed", len(report.Failed),
				"removed", len(report.Removed),
				"duration", report.Duration,
			)
			for _, f := range report.Failed {
				log.Warn("node left in float", "node", f.Node, "reason", f.Reason)
			}
			return stats.WeightOnly(g, []string{"MatMul"}).Write(os.Stdout)
		},
	}
}

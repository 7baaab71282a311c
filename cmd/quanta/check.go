package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/quanta/internal/ep"
	"github.com/samcharles93/quanta/internal/logger"
)

type checkResult struct {
	OpType      string     `yaml:"op_type"`
	Backend     ep.Backend `yaml:"backend"`
	Format      string     `yaml:"format"`
	Quantizable bool       `yaml:"quantizable"`
	Config      *ep.Config `yaml:"config,omitempty"`
}

func checkCmd() *cli.Command {
	var (
		ops       []string
		backend   string
		format    string
		providers []string
	)

	return &cli.Command{
		Name:  "check",
		Usage: "Show how an execution provider constrains operator quantization",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "op",
				Usage:       "operator types to check",
				Required:    true,
				Destination: &ops,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "execution provider (auto, cpu, cuda, dml, dnnl, trt)",
				Value:       "auto",
				Destination: &backend,
			},
			&cli.StringSliceFlag{
				Name:        "providers",
				Usage:       "providers available to the runtime, used by --backend=auto",
				Destination: &providers,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "QOperator, QDQ or Dynamic",
				Value:       string(ep.QOperator),
				Destination: &format,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			var b ep.Backend
			if backend == "auto" {
				if len(providers) == 0 {
					providers = fileConfig.Providers
				}
				b = ep.AutoDetect(providers)
				log.Debug("backend detected", "backend", b, "providers", providers)
			} else {
				var err error
				if b, err = ep.ParseBackend(backend); err != nil {
					return err
				}
			}
			f, err := ep.ParseFormat(format)
			if err != nil {
				return err
			}

			results := make([]checkResult, 0, len(ops))
			for _, op := range ops {
				cfg := ep.DefaultConfig()
				out, ok, err := ep.Run(ep.ChecksFor(f), &cfg, op, b, f)
				if err != nil {
					return fmt.Errorf("check %s: %w", op, err)
				}
				results = append(results, checkResult{
					OpType:      op,
					Backend:     b,
					Format:      string(f),
					Quantizable: ok,
					Config:      out,
				})
			}

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(results); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

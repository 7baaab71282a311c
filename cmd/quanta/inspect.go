package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/internal/stats"
)

func inspectCmd() *cli.Command {
	var (
		model     string
		arrowOut  string
		opTypes   []string
		useStdout bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print mixed precision statistics for a graph",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to the graph manifest (.json)",
				Required:    true,
				Destination: &model,
			},
			&cli.StringSliceFlag{
				Name:        "op-types",
				Usage:       "operator types to count",
				Value:       []string{"MatMul"},
				Destination: &opTypes,
			},
			&cli.StringFlag{
				Name:        "arrow",
				Usage:       "also write the table as an Arrow IPC stream to this file",
				Destination: &arrowOut,
			},
			&cli.BoolFlag{
				Name:        "arrow-stdout",
				Usage:       "write the Arrow IPC stream to stdout instead of the text table",
				Destination: &useStdout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			g, err := graph.Load(model)
			if err != nil {
				return err
			}
			table := stats.WeightOnly(g, opTypes)

			if useStdout {
				return table.WriteArrow(os.Stdout)
			}
			if err := table.Write(os.Stdout); err != nil {
				return err
			}
			if arrowOut == "" {
				return nil
			}
			return writeArrowFile(arrowOut, table)
		},
	}
}

func writeArrowFile(path string, table *stats.Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return table.WriteArrow(f)
}

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/algo"
)

func algorithmsCmd() *cli.Command {
	return &cli.Command{
		Name:  "algorithms",
		Usage: "List registered quantization algorithms",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			for _, name := range algo.DefaultRegistry().Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

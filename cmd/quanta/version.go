package main

import (
	"context"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/quanta/internal/version"
)

func versionCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return writeVersion(os.Stdout, version.Resolve(), asJSON)
		},
	}
}

// writeVersion prints info as YAML, or as a single JSON object.
func writeVersion(w io.Writer, info version.Info, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(info)
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, '\n'))
		return err
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(info); err != nil {
		return err
	}
	return enc.Close()
}

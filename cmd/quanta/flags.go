package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/logger"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
	otelStdout bool

	// loaded in setup, read by the subcommands
	fileConfig Config
	shutdown   func(context.Context) error
)

func rootFlags() []cli.Flag {
	return append(loggingFlags(),
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.BoolFlag{
			Name:        "otel",
			Usage:       "export OpenTelemetry spans to stdout",
			Destination: &otelStdout,
		},
	)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       logger.FormatPretty,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelFlags(model, output *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to the graph manifest (.json)",
			Required:    true,
			Destination: model,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output manifest path (default: $QUANTA_OUT_DIR or ./out)",
			Destination: output,
		},
	}
}

// setup runs before every command: it merges the config file, builds the
// logger and optionally installs the stdout span exporter.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	applyLoggingConfig(cmd, cfg)

	level := logLevel
	if debug {
		level = "debug"
	}
	log, err := logger.NewWithFormat(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, err
	}
	if otelStdout {
		shutdown, err = initTracer(os.Stdout)
		if err != nil {
			return ctx, err
		}
	}
	return logger.WithContext(ctx, log), nil
}

func teardown(ctx context.Context, cmd *cli.Command) error {
	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

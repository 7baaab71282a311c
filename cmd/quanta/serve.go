package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/api"
	"github.com/samcharles93/quanta/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		modelsDir   string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the quantization REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "models-dir",
				Usage:       "directory job model and output paths are resolved in",
				Value:       ".",
				Destination: &modelsDir,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr, &modelsDir)

			// job defaults come from the config file only; requests override them
			defaults := algo.DefaultOptions()
			applyQuantizeConfig(cmd, fileConfig, &defaults)

			server := api.NewServer(api.Config{
				Registry: algo.DefaultRegistry(),
				Store:    api.NewJobStore(),
				Defaults: defaults,
				Root:     modelsDir,
				Logger:   log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "models_dir", modelsDir)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/integrations/telemetry"
	"github.com/KiloProjects/kilorank/internal/config"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "kilorank",
		Usage:   "Contest scoring and rating service",
		Version: kilorank.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config path",
				Value: "./config.toml",
			},
			&cli.BoolFlag{
				Name:  "memory",
				Usage: "Keep all state in memory instead of PostgreSQL and Redis",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the grader, the background sweeps and the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations",
				Action: migrate,
			},
			{
				Name:  "finalize",
				Usage: "Finalize a contest now, regardless of its end time",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "contest", Usage: "Contest ID", Required: true},
				},
				Action: finalizeContest,
			},
			{
				Name:  "rebuild",
				Usage: "Rebuild a contest leaderboard from persisted submissions",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "contest", Usage: "Contest ID", Required: true},
				},
				Action: rebuildLeaderboard,
			},
		},
	}
	err := cmd.Run(context.Background(), os.Args)
	if err := shutdownTelemetry(context.Background()); err != nil {
		slog.Warn("Couldn't flush telemetry", slog.Any("err", err))
	}
	if err != nil {
		slog.Error("Exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

var shutdownTelemetry = func(context.Context) error { return nil }

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := config.Load(cmd.String("config")); err != nil {
		return ctx, err
	}
	if config.Common.LogDir != "" {
		if err := os.MkdirAll(config.Common.LogDir, 0755); err != nil {
			return ctx, err
		}
	}
	slog.SetDefault(kilorank.NewLogger(config.Common.Debug, os.Stderr, config.Common.LogDir))

	if err := config.LoadConfigV2(ctx, true); err != nil {
		slog.WarnContext(ctx, "Couldn't load flags", slog.Any("err", err))
	}

	if telemetry.Enabled() {
		shutdown, err := telemetry.Init(ctx)
		if err != nil {
			return ctx, fmt.Errorf("couldn't initialize telemetry: %w", err)
		}
		shutdownTelemetry = shutdown
		slog.SetDefault(kilorank.NewLogger(config.Common.Debug, os.Stderr, config.Common.LogDir, telemetry.SlogHandler()))
	}
	return ctx, nil
}

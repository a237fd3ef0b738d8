package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KiloProjects/kilorank/api"
	"github.com/KiloProjects/kilorank/db"
	"github.com/KiloProjects/kilorank/finalizer"
	"github.com/KiloProjects/kilorank/grader"
	"github.com/KiloProjects/kilorank/internal/config"
	"github.com/KiloProjects/kilorank/internal/memdb"
	"github.com/KiloProjects/kilorank/leaderboard"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// store is satisfied by both *db.DB and *memdb.DB.
type store interface {
	grader.Store
	grader.MonitorStore
	grader.DispatchStore
	finalizer.Store
	api.Store

	Close() error
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*memdb.DB)(nil)
)

func openStore(ctx context.Context, cmd *cli.Command) (store, error) {
	if cmd.Bool("memory") {
		slog.WarnContext(ctx, "Running with in-memory storage, nothing will be persisted")
		return memdb.New(), nil
	}
	conn, err := db.NewPSQL(ctx, config.Common.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := conn.RunMigrations(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// openLeaderboard returns the live leaderboard and a cleanup function.
func openLeaderboard(ctx context.Context, cmd *cli.Command) (*leaderboard.Cache, func(), error) {
	if cmd.Bool("memory") || config.Redis.Addr == "" {
		return leaderboard.New(leaderboard.NewMemoryStore(), leaderboard.NopPublisher{}, nil), func() {}, nil
	}
	client, err := redisClient()
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("couldn't reach Redis: %w", err)
	}
	board := leaderboard.New(leaderboard.NewRedisStore(client), leaderboard.NewRedisPublisher(client), nil)
	return board, func() {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			slog.WarnContext(ctx, "Couldn't close Redis client", slog.Any("err", err))
		}
	}, nil
}

func redisClient() (*redis.Client, error) {
	if strings.HasPrefix(config.Redis.Addr, "redis://") || strings.HasPrefix(config.Redis.Addr, "rediss://") {
		opts, err := redis.ParseURL(config.Redis.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}), nil
}

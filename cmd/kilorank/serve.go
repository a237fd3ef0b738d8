package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/KiloProjects/kilorank/api"
	"github.com/KiloProjects/kilorank/db"
	"github.com/KiloProjects/kilorank/finalizer"
	"github.com/KiloProjects/kilorank/grader"
	kmetrics "github.com/KiloProjects/kilorank/integrations/prometheus"
	"github.com/KiloProjects/kilorank/internal/config"
	"github.com/KiloProjects/kilorank/internal/rabbitmq"
	"github.com/KiloProjects/kilorank/judge"
	"github.com/urfave/cli/v3"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	slog.InfoContext(ctx, "Starting kilorank", slog.String("version", kilorank.Version))
	if config.Common.Debug {
		slog.WarnContext(ctx, "Debug mode activated")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kmetrics.InitMetrics()

	st, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	board, closeBoard, err := openLeaderboard(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeBoard()

	judgeClient, err := judge.New(judge.Options{
		BaseURL:     config.Judge.URL,
		AuthToken:   config.Judge.AuthToken,
		CallbackURL: config.Judge.CallbackURL,
		Timeout:     config.Judge.Timeout.Duration,
		MaxRetries:  config.Judge.MaxRetries,
	})
	if err != nil {
		return err
	}

	proc, err := grader.NewProcessor(st, board, slog.Default())
	if err != nil {
		return err
	}
	ingester := grader.NewIngester(st, proc, board, slog.Default())
	monitor := grader.NewMonitor(st, judgeClient, ingester, proc, grader.MonitorOptions{}, slog.Default())
	dispatcher := grader.NewDispatcher(st, judgeClient, slog.Default())

	var events finalizer.EventPublisher
	var mq *rabbitmq.Client
	if config.AMQP.URL != "" {
		mq, err = rabbitmq.Dial(config.AMQP.URL, config.AMQP.EventsExchange, slog.Default())
		if err != nil {
			return err
		}
		defer mq.Close()
		events = mq
	} else {
		slog.WarnContext(ctx, "No AMQP broker configured, judge results only arrive over HTTP and contest events are dropped")
	}
	fin := finalizer.New(st, board, events, nil, slog.Default())

	var wg sync.WaitGroup
	if conn, ok := st.(*db.DB); ok {
		wg.Go(func() {
			conn.Listen(ctx, db.NewSubmissionChannel, func(string) { dispatcher.Wake() })
		})
	}
	wg.Go(func() { dispatcher.Run(ctx) })
	wg.Go(func() { monitor.Run(ctx) })
	wg.Go(func() { fin.Run(ctx) })
	if mq != nil {
		wg.Go(func() {
			if err := mq.ConsumeCallbacks(ctx, config.AMQP.CallbackQueue, config.AMQP.Prefetch, ingester); err != nil {
				slog.ErrorContext(ctx, "Judge callback consumer stopped", slog.Any("err", err))
				stop()
			}
		})
	}

	server := &http.Server{
		Addr:    net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port)),
		Handler: api.New(st, board, fin, ingester).Handler(),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "Error running web server", slog.Any("err", err))
			stop()
		}
	}()
	slog.InfoContext(ctx, "Successfully started", slog.String("addr", server.Addr))

	<-ctx.Done()
	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Couldn't shut down web server", slog.Any("err", err))
	}
	wg.Wait()
	return nil
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	conn, err := db.NewPSQL(ctx, config.Common.DBDSN)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.RunMigrations(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Migrations applied")
	return nil
}

func finalizeContest(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer st.Close()
	board, closeBoard, err := openLeaderboard(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeBoard()

	var events finalizer.EventPublisher
	if config.AMQP.URL != "" {
		mq, err := rabbitmq.Dial(config.AMQP.URL, config.AMQP.EventsExchange, slog.Default())
		if err != nil {
			return err
		}
		defer mq.Close()
		events = mq
	}

	contestID := int(cmd.Int("contest"))
	if err := finalizer.New(st, board, events, nil, slog.Default()).FinalizeContest(ctx, contestID); err != nil {
		return fmt.Errorf("couldn't finalize contest %d: %w", contestID, err)
	}
	return nil
}

func rebuildLeaderboard(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer st.Close()
	board, closeBoard, err := openLeaderboard(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeBoard()

	return board.Rebuild(ctx, st, int(cmd.Int("contest")))
}

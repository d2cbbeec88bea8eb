package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"rugrow/server/internal/api"
	"rugrow/server/internal/config"
	"rugrow/server/internal/dashboard"
	"rugrow/server/internal/domain"
	"rugrow/server/internal/journal"
	"rugrow/server/internal/logger"
	"rugrow/server/internal/rtdb"
	"rugrow/server/internal/writer"
)

func main() {
	// 本地可跑优先：默认内存存储，--config 指向 yaml 时切到文件配置，
	// RUGROW_* / LOGGING_* 环境变量最后覆盖。
	configPath := pflag.String("config", "", "path to yaml config")
	addr := pflag.String("addr", "", "http listen address, overrides server.host/port")
	seedPath := pflag.String("seed", "", "demo plants json, seeded when the plants collection is empty")
	pflag.Parse()

	if err := run(*configPath, *addr, *seedPath); err != nil {
		fmt.Fprintf(os.Stderr, "rugrow: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, seedPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if seedPath != "" {
		cfg.Paths.Seed = seedPath
	}
	if addr == "" {
		addr = cfg.Server.Addr()
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := openJournal(cfg.Store)
	if err != nil {
		return err
	}
	store, err := rtdb.Open(ctx,
		rtdb.WithJournal(j),
		rtdb.WithRules(cfg.Store.Rules),
		rtdb.WithLogger(log.Named("rtdb")),
	)
	if err != nil {
		_ = j.Close()
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	if cfg.Paths.Seed != "" {
		plants, err := domain.LoadPlants(cfg.Paths.Seed)
		if err != nil {
			return err
		}
		if _, err := domain.Seed(ctx, store, plants, log.Named("seed")); err != nil {
			return err
		}
	}

	queue := writer.New(store, cfg.Writer, log.Named("writer"))
	defer func() { _ = queue.Close() }()

	dash := dashboard.NewService(store, queue, cfg.Dashboard, log.Named("dashboard"))
	defer dash.Close()

	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewServer(cfg, store, dash, log.Named("api")).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("rugrow server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func openJournal(cfg config.StoreConfig) (journal.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		j, err := journal.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		return j, nil
	default:
		return journal.NewInMemoryStore(), nil
	}
}

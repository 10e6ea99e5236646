package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"team-collab-backend/api"
	"team-collab-backend/pkg/chat"
	"team-collab-backend/pkg/clock"
	"team-collab-backend/pkg/config"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/notify"
	"team-collab-backend/pkg/tasks"
	"team-collab-backend/pkg/timesession"
	"team-collab-backend/pkg/utils"
	"team-collab-backend/pkg/workspaces"

	"github.com/spf13/pflag"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, port string

	flagSet := pflag.NewFlagSet("team-collab-server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "env file to load (default: chosen from ENVIRONMENT)")
	flagSet.StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var cfg *config.Config
	var err error
	if envFile == "" {
		cfg, err = config.GetCached()
	} else {
		cfg, err = config.LoadConfig(envFile)
	}
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, database.DatabaseConfig{
		Driver:        cfg.StoreDriver,
		DataDir:       cfg.DataDir,
		PostgresDSN:   cfg.PostgresDSN,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		Debug:         cfg.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// notifications
	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.SMTPEnabled() {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	} else {
		logger.Warn("SMTP not configured, notifications are only logged")
	}
	dispatcher := notify.NewDispatcher(sender, cfg.NotifyWorkers, cfg.NotifyQueueSize, logger)
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	clk := clock.Real()
	workspaceService := workspaces.NewService(db, logger)
	chatService := chat.NewService(db, workspaceService, chat.NewRegistry(), clk, logger)
	workspaceService.OnMemberRemoved(chatService.EvictMember)
	deps := api.Dependencies{
		DB:         db,
		JWT:        utils.NewJWTService(cfg.JWTSecret),
		Workspaces: workspaceService,
		Tasks:      tasks.NewManager(db, workspaceService, clk, logger),
		Sessions:   timesession.NewTracker(db, clk, loc, logger),
		Chat:       chatService,
		Notifier:   dispatcher,
		Logger:     logger,
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "environment", cfg.Environment, "store", cfg.StoreDriver)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// NEUROBOT - terminal chat client
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ashureev/neurobot/internal/chatstore"
	"github.com/ashureev/neurobot/internal/cli"
	"github.com/ashureev/neurobot/internal/client"
	"github.com/ashureev/neurobot/internal/config"
	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "neurobot:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath, err := config.ClientConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadClient(cfgPath)
	if err != nil {
		return err
	}

	if !identity.IsValidAnonID(cfg.DeviceID) {
		id, err := identity.NewAnonID()
		if err != nil {
			return err
		}
		cfg.DeviceID = id
		if err := config.SaveClient(cfgPath, cfg); err != nil {
			return err
		}
	}

	stateDir := filepath.Dir(cfg.StatePath)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(stateDir, "neurobot.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	sessionID := "cli-" + uuid.NewString()[:8]
	slog.Info("Starting client", "server", cfg.ServerURL, "state", cfg.StatePath, "session_id", sessionID)

	toast := cli.NewToaster(os.Stdout)
	store := chatstore.New(chatstore.NewFileStorage(cfg.StatePath),
		chatstore.WithNotifier(toast),
		chatstore.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := store.Load(ctx); err != nil {
		return err
	}
	store.EnsureChat(domain.ChatTypeChat)

	watcher, err := cli.NewStateWatcher(store, cfg.StatePath, 200*time.Millisecond, logger)
	if err != nil {
		slog.Warn("State file watching disabled", "error", err)
	} else {
		defer watcher.Close()
		watcher.OnReload(func() {
			toast.Notify("Синхронизация", "чаты обновлены другим окном")
		})
		go watcher.Run(ctx)
	}

	api := client.New(cfg.ServerURL, cfg.DeviceID, sessionID, cfg.RequestTimeout.Duration)
	session := cli.NewSession(store, api, os.Stdout, toast, cli.NewRenderer(cfg.RenderMarkdown))

	repl := cli.NewREPL(session, os.Stdout, filepath.Join(filepath.Dir(cfgPath), "history"))
	defer repl.Close()

	err = repl.Run(ctx)
	slog.Info("Client stopped", "error", err)
	return err
}

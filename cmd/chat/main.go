// Command chat is a terminal client for the Nexios Digital assistant.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"nexchat/internal/api"
	"nexchat/internal/config"
	"nexchat/internal/kvstore"
	"nexchat/internal/logging"
	"nexchat/internal/realtime"
	"nexchat/internal/session"
	"nexchat/internal/settings"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	logOut := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(logOut, cfg.LogLevel)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	prefs, err := settings.Load(ctx, store)
	if err != nil {
		logger.Warn("loading settings failed, using defaults", "err", err)
	}
	sessionStore := kvstore.Store(store)
	if !prefs.Bool(settings.SaveChat, true) {
		logger.Info("chat saving disabled, keeping the conversation in memory")
		sessionStore = kvstore.NewMemory()
	}

	client := api.New(api.Options{
		BaseURL:       cfg.APIURL,
		Timeout:       cfg.Timeout,
		UploadTimeout: cfg.UploadTimeout,
	})
	m := session.New(session.Deps{
		Store:  sessionStore,
		API:    client,
		Dialer: realtime.WebsocketDialer{},
		Logger: logger,
	}, session.Options{BaseURL: cfg.APIURL})
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Close()

	r := newREPL(m, client, store, os.Stdout, historyPath(cfg))
	defer r.Close()
	return r.Run(ctx)
}

func openStore(cfg config.Client) (kvstore.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return kvstore.NewMemory(), func() {}, nil
	case config.StoreSQLite:
		s, err := kvstore.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := kvstore.OpenFile(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func historyPath(cfg config.Client) string {
	if cfg.StorePath == "" {
		return filepath.Join(os.TempDir(), "nexchat_input_history")
	}
	return filepath.Join(filepath.Dir(cfg.StorePath), "input_history")
}

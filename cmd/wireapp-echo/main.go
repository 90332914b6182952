// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// wireapp-echo is the demo bot: it connects every stored team and
// replies to each text message with the same text. Useful as a smoke
// test against a backend and as a minimal example of the SDK surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/wireapp/app"
	"github.com/bureau-foundation/wireapp/backend"
	"github.com/bureau-foundation/wireapp/lib/ref"
	"github.com/bureau-foundation/wireapp/lib/secret"
	"github.com/bureau-foundation/wireapp/message"
	"github.com/bureau-foundation/wireapp/mls"
	"github.com/bureau-foundation/wireapp/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wireapp-echo: %v\n", err)
		os.Exit(1)
	}
}

// fileConfig is the YAML configuration file. Flags override its
// values.
type fileConfig struct {
	BackendURL        string `yaml:"backend_url"`
	StorageDir        string `yaml:"storage_dir"`
	StorePasswordFile string `yaml:"store_password_file"`
	LogLevel          string `yaml:"log_level,omitempty"`
}

func run() error {
	var configPath, backendURL, storageDir, passwordFile, logLevel string

	flagSet := pflag.NewFlagSet("wireapp-echo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&backendURL, "backend-url", "", "backend base URL")
	flagSet.StringVar(&storageDir, "storage-dir", "", "directory for the local store")
	flagSet.StringVar(&passwordFile, "store-password-file", "", "file holding the store password, or - for stdin")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg := fileConfig{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if storageDir != "" {
		cfg.StorageDir = storageDir
	}
	if passwordFile != "" {
		cfg.StorePasswordFile = passwordFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.BackendURL == "" {
		return fmt.Errorf("backend URL is required (--backend-url or config)")
	}
	if cfg.StorageDir == "" {
		return fmt.Errorf("storage directory is required (--storage-dir or config)")
	}
	if cfg.StorePasswordFile == "" {
		return fmt.Errorf("store password file is required (--store-password-file or config)")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	password, err := secret.ReadFromPath(cfg.StorePasswordFile)
	if err != nil {
		return fmt.Errorf("reading store password: %w", err)
	}
	defer password.Close()

	repository, err := store.Open(store.Config{
		Path:     filepath.Join(cfg.StorageDir, "wireapp.db"),
		Password: password,
		PoolSize: 4,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer repository.Close()

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL: cfg.BackendURL,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	handler := &echoHandler{
		BaseHandler: app.BaseHandler{Logger: logger},
		logger:      logger,
	}
	application, err := app.New(app.Config{
		Store:           repository,
		Backend:         client,
		NewCryptoClient: func() mls.CryptoClient { return mls.NewReferenceClient() },
		CryptoPassword:  password,
		Handler:         handler,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	handler.app = application

	if err := application.Start(context.Background()); err != nil {
		return err
	}
	logger.Info("echo bot running", "backend", cfg.BackendURL)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	received := <-signals
	logger.Info("shutting down", "signal", received)

	application.Stop()
	return nil
}

// echoHandler replies to every text message with its own body.
type echoHandler struct {
	app.BaseHandler

	// app is set after construction; App and Handler reference each
	// other.
	app    *app.App
	logger *slog.Logger
}

func (h *echoHandler) OnMessage(ctx context.Context, msg message.Message, content message.Text) {
	h.logger.Info("echoing message",
		"conversation", msg.ConversationID, "sender", msg.Sender)
	if err := h.app.SendText(ctx, msg.ConversationID, content.Body); err != nil {
		h.logger.Error("echo reply failed",
			"conversation", msg.ConversationID, "error", err)
	}
}

func (h *echoHandler) OnConversationJoin(ctx context.Context, conversation store.Conversation) {
	h.logger.Info("joined conversation",
		"conversation", conversation.ID, "name", conversation.Name)
}

func (h *echoHandler) OnConversationDelete(ctx context.Context, conversationID ref.QualifiedID) {
	h.logger.Info("conversation deleted", "conversation", conversationID)
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		slogLevel = slog.LevelInfo
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel,
	})), nil
}

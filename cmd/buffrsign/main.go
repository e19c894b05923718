package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/buffrsign/engine/internal/ai"
	"github.com/buffrsign/engine/internal/engine"
	"github.com/buffrsign/engine/internal/executors"
	"github.com/buffrsign/engine/internal/expressions"
	"github.com/buffrsign/engine/internal/logging"
	"github.com/buffrsign/engine/internal/panel"
	"github.com/buffrsign/engine/internal/scheduler"
	"github.com/buffrsign/engine/internal/secrets"
	"github.com/buffrsign/engine/internal/store"
	"github.com/buffrsign/engine/pkg/mcp"
	"github.com/buffrsign/engine/pkg/schema"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DBPath != "" {
		libsql, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := libsql.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		st = libsql
	} else {
		st = store.NewMemoryStore()
	}
	defer st.Close()

	apiKey := cfg.AIAPIKey
	if apiKey == "" && cfg.VaultPassphrase != "" {
		resolved, err := vaultAPIKey(ctx, st, cfg)
		if err != nil {
			return err
		}
		apiKey = resolved
	}

	aiClient := ai.NewClient(ai.ClientConfig{
		BaseURL: cfg.AIBaseURL,
		APIKey:  apiKey,
		Timeout: cfg.aiTimeout(),
	})
	registry := executors.NewDefaults(aiClient, expressions.NewGoJQEngine())

	eng := engine.New(st, registry, engine.WithLogger(logger))

	var sched *scheduler.Scheduler
	if cfg.Scheduler {
		sched = scheduler.New(eng, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	if cfg.PanelAddr != "" {
		statusPanel := panel.NewServer(cfg.PanelAddr, panel.Deps{
			Engine:    eng,
			Scheduler: sched,
			Logger:    logger,
		})
		statusPanel.Start(ctx)
	}

	srv := mcp.NewServer(mcp.ServerDeps{
		Engine:    eng,
		Scheduler: sched,
		Logger:    logger,
	})

	notifier := mcp.NewMCPNotifier(srv.MCPServer(), srv.Sessions())
	detach := mcp.AttachNotifications(eng, notifier)
	defer detach()

	logger.Info("buffrsign engine listening on stdio", "version", version)
	return srv.Serve(ctx)
}

// vaultAPIKey resolves the AI service API key from the encrypted credential
// vault. A missing credential is not an error; the client runs unauthenticated.
func vaultAPIKey(ctx context.Context, st store.Store, cfg Config) (string, error) {
	vault, err := secrets.NewAESVault(st, secrets.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       []byte(cfg.VaultSalt),
	})
	if err != nil {
		return "", fmt.Errorf("open vault: %w", err)
	}
	key, err := secrets.ResolveString(ctx, vault, secrets.KeyAIAPIKey)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return "", nil
		}
		return "", fmt.Errorf("resolve api key: %w", err)
	}
	return key, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

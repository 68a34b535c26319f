package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/expense-assistant/internal/api"
	"github.com/xaenox/expense-assistant/internal/assistant"
	"github.com/xaenox/expense-assistant/internal/bot"
	"github.com/xaenox/expense-assistant/internal/lifecycle"
	"github.com/xaenox/expense-assistant/internal/storage"
	"github.com/xaenox/expense-assistant/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	service := lifecycle.NewService(store,
		lifecycle.NewMachine(lifecycle.Policy{AllowSelfApproval: cfg.Workflow.AllowSelfApproval}),
		logger)

	var provider assistant.Provider
	openAI, err := assistant.NewOpenAIProvider(assistant.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		APIType:     cfg.OpenAI.APIType,
		APIVersion:  cfg.OpenAI.APIVersion,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.Timeout,
	}, logger)
	switch {
	case err == nil:
		provider = openAI
		logger.Info("Chat assistant enabled", zap.String("model", cfg.OpenAI.Model))
	case errors.Is(err, assistant.ErrUpstreamUnavailable):
		logger.Warn("Chat assistant disabled", zap.Error(err))
	default:
		logger.Fatal("Failed to configure chat assistant", zap.Error(err))
	}

	orchestrator := assistant.NewOrchestrator(provider, assistant.NewExpenseRegistry(store), logger,
		assistant.WithSystemPrompt(cfg.Assistant.SystemPrompt))

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(api.NewHandler(store, service, orchestrator, logger), logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, store, service, orchestrator, cfg.Telegram.UserFor, logger)
		if err != nil {
			logger.Fatal("Failed to create bot", zap.Error(err))
		}
		g.Go(func() error {
			return b.Start(gctx)
		})
	} else {
		logger.Info("Telegram token not set, bot disabled")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Shutting down with error", zap.Error(err))
		return
	}
	logger.Info("Shut down cleanly")
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (storage.Storage, error) {
	if cfg.UseInMemory {
		logger.Info("Using in-memory storage", zap.Bool("seed_demo_data", cfg.SeedDemoData))
		if cfg.SeedDemoData {
			return storage.NewSeededMemoryStorage(), nil
		}
		return storage.NewMemoryStorage(), nil
	}

	logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
	store, err := storage.NewPostgresStorage(storage.DatabaseConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.SeedDemoData {
		if err := store.SeedDemoData(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// newLogger builds a production or development logger at the configured
// level, teeing to a file when one is set.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if cfg.Development {
		devCfg := zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(devCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level)}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

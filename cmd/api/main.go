package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/aiconfig-chat/backend/internal/config"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/handler"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/ai"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/aiconfig"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/chat"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/judge"
	"github.com/zhouzirui/aiconfig-chat/backend/internal/service/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	router, closer, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	startServer(ctx, cfg.Server, router, logger)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newApp builds the config source, the model invoker and the chat service, and
// returns the HTTP router together with a closer for the config source.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, io.Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		resolver  aiconfig.Resolver
		telemetry aiconfig.Telemetry
		closer    io.Closer = closerFunc(func() error { return nil })
	)

	if cfg.AIConfig.UseLaunchDarkly() {
		client, err := aiconfig.Connect(cfg.AIConfig.SDKKey, cfg.AIConfig.InitTimeout)
		if client == nil {
			return nil, nil, err
		}
		if err != nil {
			logger.Warn("launchdarkly client not initialized yet, serving fallbacks until it connects", "error", err)
		} else {
			logger.Info("launchdarkly client initialized")
		}
		ldSource := aiconfig.NewLaunchDarkly(client, logger)
		resolver, telemetry, closer = ldSource, ldSource, client
	} else {
		static, err := aiconfig.LoadStaticFile(cfg.AIConfig.File, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using static ai configs", "file", cfg.AIConfig.File)
		resolver, telemetry = static, aiconfig.LogTelemetry{Logger: logger}
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m := metrics.New()
		resolver = m.WrapResolver(resolver)
		telemetry = m.WrapTelemetry(telemetry)
		metricsHandler = m.Handler()
	}

	// Initialize chat model
	var chatModel model.BaseChatModel
	if cfg.AI.Enabled() {
		cm, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, chat turns will fail until credentials are fixed", "error", err)
		} else {
			chatModel = cm
			logger.Info("chat model initialized", "base_url", cfg.AI.BaseURL, "region", cfg.AI.Region)
		}
	} else {
		logger.Warn("Ark 凭证未配置，聊天请求将返回配置错误")
	}

	invoker := ai.NewInvoker(chatModel, logger)
	evaluator := judge.NewEvaluator(invoker, telemetry, logger)
	chatSvc := chat.NewService(resolver, invoker, evaluator, chat.Options{
		ChatConfigKey:  cfg.AIConfig.ChatConfigKey,
		JudgeConfigKey: cfg.AIConfig.JudgeConfigKey,
	}, logger)

	router := handler.NewRouter(chatSvc, handler.Options{
		Metrics:   metricsHandler,
		StaticDir: cfg.Server.StaticDir,
		Logger:    logger,
	})
	return router, closer, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("ai chat backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

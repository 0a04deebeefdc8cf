package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campfirevalley/riverboat/internal/campfire"
	"github.com/campfirevalley/riverboat/internal/client"
	"github.com/campfirevalley/riverboat/internal/config"
	httpsvr "github.com/campfirevalley/riverboat/internal/http"
	mcpsvr "github.com/campfirevalley/riverboat/internal/mcp"
	"github.com/campfirevalley/riverboat/internal/pipeline"
	"github.com/campfirevalley/riverboat/internal/store"
)

var (
	version   = "dev"
	gitCommit = ""
	buildTime = ""
)

func main() {
	// MCP mode owns stdout for the protocol; logs go to stderr there.
	mcpMode := len(os.Args) > 1 && os.Args[1] == "mcp"
	logOut := os.Stdout
	if mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.Info("profile loaded", "profile", cfg.Profile.Name,
		"version", version, "git_commit", gitCommit, "build_time", buildTime)

	var deliveryLog *store.Store
	if cfg.DatabaseURL != "" {
		deliveryLog, err = store.New(cfg.DatabaseURL)
		if err != nil {
			logger.Error("delivery log connection failed", "err", err)
			os.Exit(1)
		}
		defer deliveryLog.Close()
	} else {
		logger.Warn("DATABASE_URL not set, delivery log disabled")
	}

	gateMode, err := campfire.ParseGateMode(cfg.GateMode)
	if err != nil {
		logger.Error("invalid GATE_MODE", "err", err)
		os.Exit(1)
	}

	var ollama *campfire.OllamaClient
	if cfg.OllamaURL != "" {
		breaker := client.NewCircuitBreaker(cfg.Profile.BreakerThreshold, cfg.Profile.BreakerRecovery)
		ollama = campfire.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel,
			&http.Client{Timeout: cfg.Profile.CamperTimeout}, breaker)
	} else {
		logger.Warn("OLLAMA_URL not set, campers run with canned responses")
	}

	campers := campfire.DefaultCampers(ollama, logger)
	aggregator := campfire.NewAggregator(campers, gateMode, logger)
	cache := pipeline.NewResponseCache(cfg.CacheTTL)
	dispatcher := pipeline.NewDispatcher(pipeline.NewPatternValidator(), aggregator, cache, deliveryLog, logger)

	logger.Info("effective config",
		"addr", cfg.Addr,
		"gate_mode", string(gateMode),
		"cache_ttl", cfg.CacheTTL.String(),
		"ollama", cfg.OllamaURL != "",
		"delivery_log", deliveryLog != nil,
		"auth", cfg.AuthSecret != "",
	)

	if mcpMode {
		if err := mcpsvr.Run(dispatcher, deliveryLog, version); err != nil {
			logger.Error("mcp server error", "err", err)
			os.Exit(1)
		}
		return
	}

	server := httpsvr.NewServer(httpsvr.Config{
		Addr:       cfg.Addr,
		Dispatcher: dispatcher,
		Store:      deliveryLog,
		AuthSecret: cfg.AuthSecret,
		Version:    version,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	server.Shutdown(ctx)
	logger.Info("shutdown complete")
}

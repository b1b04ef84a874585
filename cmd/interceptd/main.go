package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intercept/internal/certforge"
	"intercept/internal/config"
	"intercept/internal/control"
	"intercept/internal/crawler"
	"intercept/internal/eventsink"
	"intercept/internal/fuzzer"
	"intercept/internal/httpcodec"
	"intercept/internal/proxy"
	"intercept/internal/repository"
	"intercept/internal/rules"
	"intercept/internal/scanner"
	"intercept/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "configs/interceptd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting interceptd",
		"proxy_addr", cfg.Proxy.ListenAddr,
		"control_addr", cfg.Control.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
	)

	repo, err := newRepository(cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}

	ca, err := certforge.LoadOrGenerateCA(cfg.Proxy.CACertFile, cfg.Proxy.CAKeyFile)
	if err != nil {
		slog.Error("failed to load/generate CA", "error", err)
		os.Exit(1)
	}
	forge := certforge.New(ca)

	rulesEng := rules.NewEngine()
	initialRules := make([]rules.Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		initialRules = append(initialRules, rules.Rule{
			Name:        r.Name,
			Scope:       rules.Scope(r.Scope),
			MatchType:   rules.MatchType(r.MatchType),
			MatchHeader: r.MatchHeader,
			Pattern:     r.Pattern,
			IsRegex:     r.IsRegex,
			Action:       rules.ActionKind(r.Action),
			ActionName:   r.ActionName,
			ActionTarget: r.ActionTarget,
			ActionValue:  r.ActionValue,
			Priority:     r.Priority,
			Enabled:      r.Enabled,
		})
	}
	if err := rulesEng.Load(initialRules); err != nil {
		slog.Error("failed to load configured rules", "error", err)
		os.Exit(1)
	}

	registry := rules.NewRegistry(cfg.Intercept.Timeout)
	sink := eventsink.New(256)

	var tp *telemetry.Provider
	if cfg.Telemetry.Enabled {
		tp, err = telemetry.NewProvider(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			tp = nil
		}
	}
	if tp == nil {
		tp, _ = telemetry.NewProvider(telemetry.Config{Enabled: false})
	}

	proxyCore := proxy.New(proxy.Config{
		ListenAddr:      cfg.Proxy.ListenAddr,
		MITMEnabled:     cfg.Proxy.MITMEnabled,
		UpstreamTimeout: time.Duration(cfg.Proxy.UpstreamTimeoutSeconds) * time.Second,
		Limits:          httpcodec.Limits{},
	}, forge, rulesEng, registry, repo, sink, tp)
	proxyCore.SetInterceptEnabled(cfg.Intercept.Enabled)

	fuzzerEngine := fuzzer.New(repo, sink, tp)
	crawlerEngine := crawler.New(repo, sink, tp)
	scannerEngine := scanner.New(repo, sink, tp)

	api := control.New(repo, rulesEng, registry, proxyCore, fuzzerEngine, crawlerEngine, scannerEngine, sink, forge)

	controlServer := &http.Server{
		Addr:         cfg.Control.ListenAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := proxyCore.Start(ctx); err != nil {
			errCh <- fmt.Errorf("proxy error: %w", err)
		}
	}()

	go func() {
		slog.Info("control server starting", "addr", cfg.Control.ListenAddr)
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down")
	cancel()
	proxyCore.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("control server shutdown error", "error", err)
	}
	if err := repo.Close(); err != nil {
		slog.Error("repository close error", "error", err)
	}
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}

	slog.Info("interceptd stopped")
}

func newRepository(cfg config.StorageConfig) (repository.Repository, error) {
	switch cfg.Driver {
	case "redis":
		return repository.NewRedisStore(repository.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	default:
		return repository.NewSQLiteStore(cfg.SQLite.Path)
	}
}

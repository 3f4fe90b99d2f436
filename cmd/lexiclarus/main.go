package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericksa/lexiclarus/internal/api"
	"github.com/ericksa/lexiclarus/internal/archive"
	"github.com/ericksa/lexiclarus/internal/audit"
	"github.com/ericksa/lexiclarus/internal/config"
	"github.com/ericksa/lexiclarus/internal/gateway"
	"github.com/ericksa/lexiclarus/internal/pipeline"
	"github.com/ericksa/lexiclarus/internal/session"
	"github.com/ericksa/lexiclarus/pkg/mcp"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	orch    *pipeline.Orchestrator
	mcp     *mcp.Handler
	handler http.Handler
	closers []func() error
}

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml")
	stdio := flag.Bool("stdio", false, "serve MCP tools over stdin/stdout instead of HTTP")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.close()

	go a.orch.Registry().Janitor(ctx, time.Minute)

	if *stdio {
		if err := a.mcp.Server().Run(ctx, &sdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("mcp stdio server stopped", zap.Error(err))
		}
		a.orch.Wait()
		return
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server.start", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("server.shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	a.orch.Wait()
	logger.Info("server.stopped")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// build wires every component from cfg. Optional backends that fail to
// connect are fatal; disabled ones are skipped.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	var aud *audit.Auditor
	gwOpts := []gateway.Option{gateway.WithLogger(logger)}
	if cfg.Audit.Enabled {
		var err error
		if aud, err = audit.New(cfg.Audit.Path, logger); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, aud.Close)
		gwOpts = append(gwOpts, gateway.WithObserver(aud))
	}

	gw, err := gateway.NewFromConfig(cfg, gwOpts...)
	if err != nil {
		a.close()
		return nil, err
	}

	var snaps session.Snapshotter
	if cfg.Sessions.Redis.Enabled {
		client, err := session.DialRedis(ctx, cfg.Sessions.Redis.Addr, cfg.Sessions.Redis.Password, cfg.Sessions.Redis.DB)
		if err != nil {
			a.close()
			return nil, err
		}
		rs := session.NewRedisSnapshots(client, cfg.Sessions.Redis.KeyPrefix, cfg.Sessions.TTL)
		a.closers = append(a.closers, rs.Close)
		snaps = rs
	}

	var store archive.Store
	if cfg.Archive.Enabled {
		m, err := archive.NewMinIO(cfg.Archive)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			a.close()
			return nil, err
		}
		store = m
	}

	a.orch, err = pipeline.NewFromConfig(cfg, gw, session.NewRegistry(cfg.Sessions.TTL), snaps, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.mcp = mcp.NewHandler(a.orch, aud, logger)
	a.handler = api.New(cfg, a.orch, api.Options{
		Archive:   store,
		Audit:     aud,
		Snapshots: snaps,
		MCP:       a.mcp,
	}, logger).Router()
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/user1303836/x-gif-blocker/internal/phash/common/clock"
	"github.com/user1303836/x-gif-blocker/internal/phash/common/log"
	"github.com/user1303836/x-gif-blocker/internal/phash/config"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/compute"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/hasher"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/transport"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/wire"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist/bloom"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/blocklist/lru"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore"
	boltstore "github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore/bolt"
	redisstore "github.com/user1303836/x-gif-blocker/internal/phash/repos/kvstore/redis"
	"github.com/user1303836/x-gif-blocker/internal/phash/repos/urlcache"
	"github.com/user1303836/x-gif-blocker/internal/phash/services/phash"
)

const (
	version = "0.1.0-dev"
	appName = "gifblockd"

	workerSubcommand = "hash-worker"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the matching service.
type Application struct {
	config    *config.AppConfig
	transport *transport.UDPTransport
	service   *phash.Service
	manager   *compute.Manager
	cache     *urlcache.Cache
	blocklist *blocklist.Repository
	store     kvstore.Store
	metrics   *http.Server
}

func main() {
	app := newCLI()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    appName,
		Usage:   "perceptual hash matching service for blocking duplicate GIFs",
		Version: version,
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the matching service (configured through GIFBLOCK_* variables)",
				Action: runServe,
			},
			{
				Name:   workerSubcommand,
				Usage:  "compute fingerprints for requests on stdin, replies on stdout",
				Hidden: true,
				Action: runHashWorker,
			},
			blocklistCommand(),
			queryCommand(),
		},
	}
}

// loadConfig reads the environment and configures global logging.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return cfg, nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info(map[string]any{
		"version":         version,
		"env":             cfg.Env,
		"log_level":       cfg.LogLevel,
		"listen":          cfg.Listen,
		"store_backend":   cfg.StoreBackend,
		"compute_backend": cfg.ComputeBackend,
		"threshold":       cfg.MatchThreshold,
	}, "Starting gifblock service")

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	app, err := buildApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.Run(ctx); err != nil {
		return err
	}

	log.Info(nil, "gifblock service stopped gracefully")
	return nil
}

// buildApplication constructs all components and wires them together.
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	store, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	repo, err := buildBlocklist(ctx, cfg, store, clk, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	launcher, err := buildLauncher(cfg, logger)
	if err != nil {
		repo.Close()
		_ = store.Close()
		return nil, err
	}

	manager, err := compute.NewManager(compute.ManagerOptions{
		Launcher:    launcher,
		Clock:       clk,
		Logger:      logger,
		IdleTimeout: cfg.IdleTimeout,
		InitGrace:   cfg.InitGrace,
	})
	if err != nil {
		repo.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}

	bridge, err := compute.NewBridge(compute.BridgeOptions{
		Manager:        manager,
		Clock:          clk,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		repo.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create compute bridge: %w", err)
	}

	cache, err := urlcache.New(ctx, urlcache.Options{
		Store:    store,
		Computer: bridge,
		Clock:    clk,
		Logger:   logger,
		Capacity: cfg.CacheCapacity,
		Debounce: cfg.PersistDebounce,
	})
	if err != nil {
		repo.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to load fingerprint cache: %w", err)
	}

	log.Info(map[string]any{
		"capacity": cfg.CacheCapacity,
		"debounce": cfg.PersistDebounce,
	}, "Fingerprint cache configured")

	service, err := phash.New(phash.Options{
		Cache:    cache,
		Matcher:  repo,
		Resource: manager,
		Logger:   logger,
	})
	if err != nil {
		repo.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	codec := wire.NewJSONCodec(logger)
	udpTransport := transport.NewUDPTransport(cfg.Listen, codec, logger)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return &Application{
		config:    cfg,
		transport: udpTransport,
		service:   service,
		manager:   manager,
		cache:     cache,
		blocklist: repo,
		store:     store,
		metrics:   metricsServer,
	}, nil
}

// buildStore opens the configured key-value backend.
func buildStore(cfg *config.AppConfig) (kvstore.Store, error) {
	switch cfg.StoreBackend {
	case "bolt":
		log.Info(map[string]any{"path": cfg.StorePath}, "Using bolt store")
		return boltstore.New(cfg.StorePath)
	case "redis":
		log.Info(map[string]any{"addr": cfg.RedisAddr, "db": cfg.RedisDB}, "Using redis store")
		return redisstore.New(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Logger:   log.GetLogger(),
		})
	case "memory":
		log.Warn(nil, "Using in-memory store; the blocklist will not survive a restart")
		return kvstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// buildBlocklist creates the matcher and loads the persisted blocklist.
func buildBlocklist(ctx context.Context, cfg *config.AppConfig, store kvstore.Store, clk clock.Clock, logger log.Logger) (*blocklist.Repository, error) {
	decisions, err := lru.New(cfg.DecisionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}
	repo, err := blocklist.New(blocklist.Options{
		Store:     store,
		Cache:     decisions,
		Index:     bloom.NewFactory(cfg.BloomFPRate),
		Clock:     clk,
		Logger:    logger,
		Threshold: cfg.MatchThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blocklist: %w", err)
	}
	if err := repo.Load(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}
	stats := repo.Stats()
	log.Info(map[string]any{
		"items":       stats.BlockedItems,
		"legacy":      stats.LegacyItems,
		"muted_users": stats.MutedUsers,
	}, "Blocklist loaded")
	return repo, nil
}

// buildLauncher picks the compute backend. The subprocess backend re-executes
// this binary with the hash-worker subcommand unless a command is configured.
func buildLauncher(cfg *config.AppConfig, logger log.Logger) (compute.Launcher, error) {
	switch cfg.ComputeBackend {
	case "inproc":
		return &compute.InprocLauncher{
			Fingerprinter: newHasher(cfg, logger),
			Concurrency:   cfg.WorkerConcurrency,
			Logger:        logger,
		}, nil
	case "subprocess":
		command := cfg.WorkerCommand
		if len(command) == 0 {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("failed to locate executable: %w", err)
			}
			command = []string{self, workerSubcommand}
		}
		return &compute.SubprocessLauncher{Command: command, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown compute backend %q", cfg.ComputeBackend)
	}
}

func newHasher(cfg *config.AppConfig, logger log.Logger) *hasher.Hasher {
	return hasher.New(hasher.Options{
		FetchTimeout: cfg.FetchTimeout,
		MaxBytes:     cfg.FetchMaxBytes,
		UserAgent:    appName + "/" + version,
		Logger:       logger,
	})
}

// Run starts the service and blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.transport.Start(ctx, app.service); err != nil {
		app.close(context.Background())
		return fmt.Errorf("failed to start UDP transport: %w", err)
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "UDP",
	}, "gifblock service started")

	if app.metrics != nil {
		go func() {
			log.Info(map[string]any{"address": app.metrics.Addr}, "Metrics endpoint listening")
			if err := app.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(map[string]any{"error": err}, "Metrics endpoint failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := app.transport.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during transport shutdown")
	}

	done := make(chan struct{})
	go func() {
		app.close(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}

// close flushes pending state and releases everything but the transport.
func (app *Application) close(ctx context.Context) {
	if app.metrics != nil {
		if err := app.metrics.Shutdown(ctx); err != nil {
			log.Warn(map[string]any{"error": err}, "Error stopping metrics endpoint")
		}
	}
	if err := app.cache.Flush(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Failed to flush fingerprint cache")
	}
	if err := app.manager.Teardown(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Error tearing down compute resource")
	}
	app.blocklist.Close()
	if err := app.store.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing store")
	}
}

// runHashWorker is the child side of the subprocess backend. Logs go to
// stderr; stdout carries only protocol replies.
func runHashWorker(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.Named(log.GetLogger(), "hash-worker")
	logger.Debug(map[string]any{"pid": os.Getpid()}, "Hash worker ready")

	return compute.Serve(c.Context, os.Stdin, os.Stdout, compute.WorkerOptions{
		Fingerprinter: newHasher(cfg, logger),
		Logger:        logger,
		Concurrency:   cfg.WorkerConcurrency,
	})
}

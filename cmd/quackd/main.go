package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quackcore/internal/api"
	"quackcore/internal/config"
	xerrors "quackcore/internal/errors"
	"quackcore/internal/integrations/amqpq"
	"quackcore/internal/integrations/gmail"
	"quackcore/internal/integrations/llm"
	"quackcore/internal/integrations/web3"
	"quackcore/internal/plugins/configfile"
	"quackcore/internal/plugins/fs"
	"quackcore/internal/plugins/paths"
	"quackcore/internal/storage/memory"
	"quackcore/internal/storage/mysql"
	"quackcore/internal/storage/redis"
	"quackcore/pkg/capability"
	"quackcore/pkg/facade"
	"quackcore/pkg/logger"
	"quackcore/pkg/plugin"
	"quackcore/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "quackd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("quackd")
	log.Info("starting", slog.String("config", cfg.Path))

	store, err := newCredentialStore(ctx, cfg)
	if err != nil {
		return err
	}

	sessions := session.NewManager(store, sessionOptions(cfg)...)
	defer sessions.Close()

	registry := plugin.NewRegistry(
		plugin.WithSource(plugin.StaticSource(builtins(cfg))),
		plugin.WithConfigSource(cfg),
	)
	discovered, err := registry.Discover(ctx)
	if err != nil {
		return err
	}
	log.Info("plugins discovered", slog.Int("count", len(discovered)))

	entry := facade.New(registry, sessions)
	server := api.NewServer(cfg.Server.Address, entry, registry)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()
	log.Info("api listening", slog.String("address", cfg.Server.Address))

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			log.Info("metrics endpoint listening", slog.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics endpoint failed", slog.Any("error", err))
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("api server failed", slog.Any("error", err))
		}
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics endpoint shutdown failed", slog.Any("error", err))
		}
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warn("plugin shutdown completed with failures", slog.Any("error", err))
	}
	return nil
}

func newCredentialStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Credentials.Driver {
	case "", "memory":
		return memory.NewStore(), nil
	case "redis":
		return redis.NewStore(ctx, cfg.Credentials.Redis)
	case "mysql":
		return mysql.NewStore(ctx, mysql.Config{DSN: cfg.Credentials.MySQL.DSN})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("unknown credential driver %s", cfg.Credentials.Driver))
	}
}

func sessionOptions(cfg *config.Config) []session.ManagerOption {
	var opts []session.ManagerOption
	for name, integration := range cfg.Integrations {
		if integration.Rate.MaxCalls > 0 {
			opts = append(opts, session.WithRateConfig(name, session.RateConfig{
				Window:   integration.Rate.Window.Std(),
				MaxCalls: integration.Rate.MaxCalls,
			}))
		}
		if integration.Retry.MaxAttempts > 0 {
			opts = append(opts, session.WithRetryConfig(name, session.RetryConfig{
				MaxAttempts:     integration.Retry.MaxAttempts,
				InitialInterval: integration.Retry.InitialInterval.Std(),
				MaxInterval:     integration.Retry.MaxInterval.Std(),
				Multiplier:      integration.Retry.Multiplier,
				Jitter:          integration.Retry.Jitter,
			}))
		}
	}
	return opts
}

// builtins lists the plugins compiled into the binary. Local capability
// plugins always register; remote integrations register only when their
// settings block is present.
func builtins(cfg *config.Config) []plugin.Descriptor {
	descriptors := []plugin.Descriptor{
		{
			Name: fs.PluginName, Kind: capability.KindFilesystem, Version: "1.0.0",
			Capabilities: []capability.Tag{
				capability.TagFileRead, capability.TagFileWrite, capability.TagFileList,
				capability.TagFileStat, capability.TagFileSafeOps,
			},
			Factory: fs.New,
		},
		{
			Name: paths.PluginName, Kind: capability.KindPathResolver, Version: "1.0.0",
			Capabilities: []capability.Tag{
				capability.TagPathResolve, capability.TagPathNormalize, capability.TagPathProject,
			},
			Factory: paths.New,
		},
		{
			Name: configfile.PluginName, Kind: capability.KindConfig, Version: "1.0.0",
			Capabilities: []capability.Tag{capability.TagConfigLoad, capability.TagConfigGet},
			Factory:      configfile.New,
		},
	}

	if _, ok := cfg.Plugins[llm.PluginName]; ok {
		descriptors = append(descriptors, plugin.Descriptor{
			Name: llm.PluginName, Kind: capability.KindIntegration, Version: "1.0.0",
			Capabilities: []capability.Tag{capability.TagIntegrationCall},
			Factory:      llm.New,
		})
	}
	if _, ok := cfg.Plugins[gmail.PluginName]; ok {
		descriptors = append(descriptors, plugin.Descriptor{
			Name: gmail.PluginName, Kind: capability.KindIntegration, Version: "1.0.0",
			Capabilities: []capability.Tag{
				capability.TagIntegrationAuth, capability.TagIntegrationCall,
				capability.TagIntegrationPaginate,
			},
			Factory: gmail.New,
		})
	}
	if _, ok := cfg.Plugins[web3.PluginName]; ok {
		descriptors = append(descriptors, plugin.Descriptor{
			Name: web3.PluginName, Kind: capability.KindIntegration, Version: "1.0.0",
			Capabilities: []capability.Tag{capability.TagIntegrationCall},
			Factory:      web3.New,
		})
	}
	if _, ok := cfg.Plugins[amqpq.PluginName]; ok {
		descriptors = append(descriptors, plugin.Descriptor{
			Name: amqpq.PluginName, Kind: capability.KindIntegration, Version: "1.0.0",
			Capabilities: []capability.Tag{capability.TagIntegrationCall},
			Factory:      amqpq.New,
		})
	}
	return descriptors
}

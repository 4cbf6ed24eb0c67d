package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/internal/ratelimiter"
	"github.com/marmos91/dittoshard/pkg/admin"
	"github.com/marmos91/dittoshard/pkg/api"
	"github.com/marmos91/dittoshard/pkg/config"
	"github.com/marmos91/dittoshard/pkg/federation/signature"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/gc"
	"github.com/marmos91/dittoshard/pkg/health"
	"github.com/marmos91/dittoshard/pkg/metrics"
	"github.com/marmos91/dittoshard/pkg/migrate"
	"github.com/marmos91/dittoshard/pkg/registry"
	"github.com/marmos91/dittoshard/pkg/router"
	"github.com/marmos91/dittoshard/pkg/server"
	"github.com/marmos91/dittoshard/pkg/shard"
)

var (
	version = "dev"
	commit  = "none"
)

const usage = `DittoShard - Shard routing and federation server

Usage:
  dittoshard <command> [flags]

Commands:
  init      Initialize a sample configuration file
  start     Start the shard server
  route     Print the shard that owns a key in the configured topology
  version   Show version information
  help      Show this help message

Flags:
  init:
    --config string   Path to config file (default: $XDG_CONFIG_HOME/dittoshard/config.yaml)
    --force           Overwrite existing config file

  start:
    --config string   Path to config file (default: $XDG_CONFIG_HOME/dittoshard/config.yaml)

  route:
    --config string   Path to config file (default: $XDG_CONFIG_HOME/dittoshard/config.yaml)

Examples:
  dittoshard init
  dittoshard start --config /etc/dittoshard/config.yaml
  dittoshard route 42
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "route":
		err = runRoute(os.Args[2:])
	case "version":
		fmt.Printf("dittoshard %s (commit %s)\n", version, commit)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	force := fs.Bool("force", false, "Overwrite existing config file")
	_ = fs.Parse(args)

	path := *configFile
	if path == "" {
		var err error
		if path, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("Edit the shards list, then run: dittoshard start")
	return nil
}

func runRoute(args []string) error {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: dittoshard route [--config path] <key>")
	}
	raw, err := strconv.ParseUint(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid shard key %q: %w", fs.Arg(0), err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	mapper, err := config.CreateMapper(&cfg.Sharding)
	if err != nil {
		return err
	}

	index, err := mapper.ShardForKey(shard.Key(raw), len(cfg.Sharding.Shards))
	if err != nil {
		return err
	}
	sc := cfg.Sharding.Shards[index]
	fmt.Printf("key=%d policy=%s index=%d shard=%s dsn=%s\n", raw, cfg.Sharding.Policy, index, sc.Name, sc.DSN)
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	logger.Info("DittoShard %s starting", version)
	logger.Info("Log level: %s, policy: %s, shards: %d", cfg.Logging.Level, cfg.Sharding.Policy, len(cfg.Sharding.Shards))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Step 1: Shards, registry and router
	// ========================================================================

	handles, err := config.CreateShardHandles(ctx, cfg.Sharding.Shards)
	if err != nil {
		return err
	}
	reg, err := registry.New(handles)
	if err != nil {
		config.CloseHandles(handles)
		return fmt.Errorf("failed to build shard registry: %w", err)
	}
	mapper, err := config.CreateMapper(&cfg.Sharding)
	if err != nil {
		config.CloseHandles(handles)
		return err
	}

	metricsResult := config.InitializeMetrics(cfg)
	metrics.SetBuildInfo(version, commit)
	rt := router.New(mapper, reg, metricsResult.Router)

	// ========================================================================
	// Step 2: Federation trust, verifier and purge collector
	// ========================================================================

	stateStore, err := config.CreateStateStore(ctx, &cfg.State)
	if err != nil {
		config.CloseHandles(handles)
		return err
	}
	defer func() {
		if err := stateStore.Close(); err != nil {
			logger.Warn("Failed to close state store: %v", err)
		}
	}()

	trustStore := trust.New(trust.Config{
		GracePeriod: cfg.Federation.GracePeriod,
		Metrics:     metricsResult.Federation,
	})

	algorithm, err := signature.ParseAlgorithm(cfg.Federation.Algorithm)
	if err != nil {
		config.CloseHandles(handles)
		return err
	}
	verifier := signature.NewVerifier(signature.VerifierConfig{
		Trust:     trustStore,
		Algorithm: algorithm,
		Metrics:   metricsResult.Federation,
	})

	limiter := ratelimiter.New(cfg.Federation.RateLimit.RequestsPerSecond, cfg.Federation.RateLimit.Burst, ratelimiter.Options{})

	collector := gc.NewCollector(trustStore, stateStore, gc.Config{
		Enabled:  *cfg.Federation.PurgeEnabled,
		Interval: cfg.Federation.PurgeInterval,
	})

	// ========================================================================
	// Step 3: Admin service, restored from the state store
	// ========================================================================

	svc, err := admin.New(admin.Config{
		Registry:  reg,
		Mover:     migrate.NewMover(reg, mapper, metricsResult.Router),
		Trust:     trustStore,
		State:     stateStore,
		Collector: collector,
	})
	if err != nil {
		config.CloseHandles(handles)
		return err
	}
	if err := svc.Restore(ctx); err != nil {
		config.CloseHandles(handles)
		return fmt.Errorf("failed to restore persisted state: %w", err)
	}
	defer func() { config.CloseHandles(svc.Topology().Handles()) }()

	t := svc.Topology()
	logger.Info("Topology generation %d with %d shard(s), resharding=%t", t.Current.Generation, t.Current.Count(), t.Resharding())

	// ========================================================================
	// Step 4: Components
	// ========================================================================

	srv := server.New(cfg.Server.ShutdownTimeout)

	checker := health.NewChecker(reg, metricsResult.Router, health.Config{
		Enabled:  true,
		Interval: cfg.Health.Interval,
		Timeout:  cfg.Health.Timeout,
	})
	if err := srv.Add(server.Worker("health", checker.Start, checker.Stop)); err != nil {
		return err
	}
	if err := srv.Add(server.Worker("purge", func(context.Context) { collector.Start() }, collector.Stop)); err != nil {
		return err
	}

	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", cfg.Metrics.Port)
		if err := srv.Add(server.Listener("metrics", metricsResult.Server.Start, metricsResult.Server.Stop)); err != nil {
			return err
		}
	}

	deps := api.Deps{
		Admin:      svc,
		Router:     rt,
		Verifier:   verifier,
		Limiter:    limiter,
		Federation: metricsResult.Federation,
		AdminToken: cfg.Admin.Token,
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.ServerConfig{
			Name:         "api",
			Address:      cfg.API.Address,
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
			Limiter:      limiter,
		}, api.NewFederationHandler(deps))
		if err := srv.Add(server.Listener("api", apiServer.Start, apiServer.Stop)); err != nil {
			return err
		}
	} else {
		logger.Warn("Federation API disabled: signed record requests are not served")
	}

	if cfg.Admin.Enabled {
		if cfg.Admin.Token == "" {
			logger.Warn("Admin API on %s:%d has no token; anything that can reach it can reshard and manage trust", cfg.Admin.Address, cfg.Admin.Port)
		}
		adminServer := api.NewServer(api.ServerConfig{
			Name:         "admin",
			Address:      cfg.Admin.Address,
			Port:         cfg.Admin.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		}, api.NewAdminHandler(deps))
		if err := srv.Add(server.Listener("admin", adminServer.Start, adminServer.Stop)); err != nil {
			return err
		}
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

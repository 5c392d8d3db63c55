// Command artemis is the task execution gateway's process entrypoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmguard/artemis/internal/config"
	"github.com/swarmguard/artemis/internal/configwatch"
	"github.com/swarmguard/artemis/internal/engine"
	"github.com/swarmguard/artemis/internal/gateway"
	"github.com/swarmguard/artemis/internal/housekeeping"
	"github.com/swarmguard/artemis/internal/logging"
	"github.com/swarmguard/artemis/internal/metrics"
	"github.com/swarmguard/artemis/internal/otelinit"
	"github.com/swarmguard/artemis/internal/registry"
	"github.com/swarmguard/artemis/internal/runstore"
	"github.com/swarmguard/artemis/internal/tasks"
)

const serviceName = "artemis"

var (
	configPath        string
	configEnv         string
	registrationsYAML string
	runstorePath      string
)

func main() {
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Artemis task execution gateway",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: search standard locations)")
	root.PersistentFlags().StringVar(&configEnv, "env", "", "environment overlay name (default: $ARTEMIS_ENV, then the config file's env key, then development)")
	root.PersistentFlags().StringVar(&registrationsYAML, "registrations", "config/registrations.yaml", "path to dynamic task registrations file")
	root.PersistentFlags().StringVar(&runstorePath, "runstore", "", "path to the run store bbolt file (default: $ARTEMIS_RUNSTORE_PATH or ./data/runs.db)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the task registry",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print registered task codes without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistryList()
		},
	}
	registryCmd.AddCommand(listCmd)
	root.AddCommand(serveCmd, registryCmd)
	root.RunE = serveCmd.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfig() *config.Manager {
	mgr := config.NewManager(
		[]string{"config/config.yaml", "/etc/artemis/config.yaml"},
		[]string{"config/task.yaml"},
	)
	if err := mgr.Init(configPath, configEnv, true); err != nil {
		slog.Warn("config_init_failed", "error", err)
	}
	return mgr
}

// dynamicFactory maps a persisted {module,class_name} registration back to
// a constructor. Every resolvable constructor must already be compiled in;
// there is no runtime code loading, matching registry.New's contract.
func dynamicFactory(cfg *config.Manager) func(moduleRef, className string) (registry.Constructor, error) {
	return func(moduleRef, className string) (registry.Constructor, error) {
		switch className {
		case "EchoTask":
			return tasks.NewEcho(cfg), nil
		case "FanOutDemoTask":
			return tasks.NewFanOutDemo(tasks.EchoCode, 2, cfg), nil
		default:
			return nil, fmt.Errorf("artemis: no compiled-in task class %q (module %q)", className, moduleRef)
		}
	}
}

func buildRegistry(cfg *config.Manager) (*registry.Registry, error) {
	reg := registry.New(registrationsYAML, dynamicFactory(cfg))
	if err := reg.RegisterStatic(tasks.EchoCode, tasks.NewEcho(cfg)); err != nil {
		return nil, err
	}
	if err := reg.RegisterStatic(tasks.FanOutCode, tasks.NewFanOutDemo(tasks.EchoCode, 2, cfg)); err != nil {
		return nil, err
	}
	if err := reg.LoadPersisted(); err != nil {
		return nil, err
	}
	return reg, nil
}

func runRegistryList() error {
	cfg := buildConfig()
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	specs := reg.List()
	codes := make([]string, 0, len(specs))
	for code := range specs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		kind := "static"
		if specs[code].IsDynamic {
			kind = "dynamic"
		}
		fmt.Printf("%-30s %s\n", code, kind)
	}
	return nil
}

func runServe() error {
	cfg := buildConfig()
	snap := cfg.Snapshot()
	logger := logging.Init(serviceName, snap.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, serviceName)

	reg, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("artemis: building registry: %w", err)
	}

	storePath := runstorePath
	if storePath == "" {
		storePath = os.Getenv("ARTEMIS_RUNSTORE_PATH")
	}
	if storePath == "" {
		storePath = "./data/runs.db"
	}
	if err := os.MkdirAll(dirOf(storePath), 0o755); err != nil {
		logger.Warn("runstore_dir_create_failed", "error", err)
	}
	store, err := runstore.Open(storePath)
	if err != nil {
		logger.Warn("runstore_open_failed", "error", err, "path", storePath)
		store = nil
	} else {
		defer store.Close()
	}

	promMetrics := metrics.New()

	eng := engine.New(reg, cfg, logger, promMetrics, store)
	gw := gateway.New(eng, reg, logger)

	mux := gw.Mux()
	mux.Handle("/metrics", promMetrics.Handler())

	addr := fmt.Sprintf(":%d", snap.Server.Port)
	if snap.Server.Port == 0 {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server_error", "error", err)
			cancel()
		}
	}()

	retention := retentionFromEnv()
	hk := housekeeping.New(store, retention, logger)
	hk.Start()

	watcher := configwatch.New(registrationsYAML, reg, logger)
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go watcher.Run(watchCtx)

	logger.Info("artemis_started", "addr", addr)
	<-ctx.Done()
	logger.Info("artemis_shutdown_initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	eng.Shutdown(shutdownCtx)
	hk.Stop(shutdownCtx)
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	logger.Info("artemis_shutdown_complete")
	return nil
}

func retentionFromEnv() time.Duration {
	if v := os.Getenv("ARTEMIS_RUN_RETENTION_HOURS"); v != "" {
		if hours, err := time.ParseDuration(v + "h"); err == nil {
			return hours
		}
	}
	return 72 * time.Hour
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

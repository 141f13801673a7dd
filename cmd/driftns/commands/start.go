package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/server"
	"github.com/driftfs/driftfs/pkg/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the naming server",
	Long: `Start the naming server with the specified configuration.

The server loads its metadata registry from disk, listens for client and
storage server connections, and persists the registry again on shutdown.
Shutdown is triggered by SIGINT/SIGTERM or by typing SHUTDOWN on stdin.

Examples:
  # Start with the default config location
  driftns start

  # Start with a custom config file
  driftns start --config /etc/driftns/config.yaml

  # Override settings from the environment
  DRIFTNS_LOGGING_LEVEL=DEBUG driftns start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}

	logger.Info("configuration loaded", "source", configSource(GetConfigFile()))

	reg := registry.New()
	if err := reg.Load(cfg.Paths.Registry); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	logger.Info("registry loaded",
		logger.KeyPath, cfg.Paths.Registry,
		logger.KeyFiles, reg.FileCount())

	fleet := storage.NewManager()

	var rec metrics.Recorder
	var prom *metrics.PrometheusRecorder
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheusRecorder()
		rec = prom
	}

	dsp := server.NewDispatcher(reg, fleet, cfg, rec)
	srv := server.New(cfg.Server, dsp, fleet, rec)

	monitor := storage.NewMonitor(fleet, cfg.Heartbeat.Interval, cfg.Heartbeat.Window)
	if prom != nil {
		monitor = monitor.WithRecorder(prom)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		srv.Stop()
		return nil
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	if prom != nil {
		g.Go(func() error {
			return metrics.Serve(gctx, prom, cfg.Metrics.Port)
		})
	}

	// The console watcher cannot be interrupted mid-read, so it runs outside
	// the group and simply leaks at process exit.
	go server.WatchConsole(os.Stdin, cancel)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	g.Go(func() error {
		select {
		case sig := <-sigChan:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-gctx.Done():
		}
		signal.Stop(sigChan)
		return nil
	})

	logger.Info("naming server running, press Ctrl+C or type SHUTDOWN to stop")
	runErr := g.Wait()

	fleet.Shutdown()
	if err := reg.Save(cfg.Paths.Registry); err != nil {
		logger.Error("registry persist failed",
			logger.KeyPath, cfg.Paths.Registry,
			logger.KeyError, err.Error())
		if runErr == nil {
			runErr = err
		}
	} else {
		logger.Info("registry persisted",
			logger.KeyPath, cfg.Paths.Registry,
			logger.KeyFiles, reg.FileCount())
	}

	if runErr != nil {
		logger.Error("naming server stopped with error", logger.KeyError, runErr.Error())
		return runErr
	}
	logger.Info("naming server stopped")
	return nil
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// configSource describes where the configuration was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

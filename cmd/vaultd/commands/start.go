package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marmos91/vaultd/internal/logger"
	"github.com/marmos91/vaultd/pkg/config"
	"github.com/marmos91/vaultd/pkg/metrics"
	"github.com/marmos91/vaultd/pkg/server"
	"github.com/marmos91/vaultd/pkg/store"
	"github.com/marmos91/vaultd/pkg/vault"
)

var (
	flagListen             string
	flagPort               int
	flagDatabasePath       string
	flagStorageRoot        string
	flagLogLevel           string
	flagLogFormat          string
	flagShutdownTimeout    string
	flagMaxConnections     int
	flagMetricsAddr        string
	flagMetricsLogInterval string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vaultd server",
	Long: `Start the vaultd server.

All flags are optional. Running "vaultd start" with zero flags reproduces
the original's zero-configuration behavior: the current working directory
as storage root, the legacy port.info file (or 1234) as listen port, and
info-level text logs.

Examples:
  # Zero-configuration start
  vaultd start

  # Custom port and storage root
  vaultd start --port 9090 --storage-root /var/lib/vaultd

  # Environment variable override
  VAULTD_LOG_LEVEL=DEBUG vaultd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&flagListen, "listen", "", "address to bind (default: all interfaces)")
	startCmd.Flags().IntVar(&flagPort, "port", 0, "TCP port to listen on (default: port.info, or 1234)")
	startCmd.Flags().StringVar(&flagDatabasePath, "db", "", "path to the SQLite database file")
	startCmd.Flags().StringVar(&flagStorageRoot, "storage-root", "", "directory under which uploaded files are stored")
	startCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "DEBUG, INFO, WARN, or ERROR")
	startCmd.Flags().StringVar(&flagLogFormat, "log-format", "", "text or json")
	startCmd.Flags().StringVar(&flagShutdownTimeout, "shutdown-timeout", "", "graceful shutdown timeout (e.g. 30s)")
	startCmd.Flags().IntVar(&flagMaxConnections, "max-connections", 0, "maximum concurrent connections (0 = unlimited)")
	startCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint (default: disabled)")
	startCmd.Flags().StringVar(&flagMetricsLogInterval, "metrics-log-interval", "", "how often to also log active-connection counts (e.g. 30s; default: disabled)")
}

func runStart(cmd *cobra.Command, args []string) error {
	v := viper.New()

	// Only push a flag's value into viper when the user actually passed
	// it — otherwise an unbound default (e.g. port 0) would shadow the
	// environment variable and config file layers beneath it.
	setIfChanged := func(key, flagName string, val any) {
		if cmd.Flags().Changed(flagName) {
			v.Set(key, val)
		}
	}
	setIfChanged("listen_addr", "listen", flagListen)
	setIfChanged("port", "port", flagPort)
	setIfChanged("database_path", "db", flagDatabasePath)
	setIfChanged("storage_root", "storage-root", flagStorageRoot)
	setIfChanged("log_level", "log-level", flagLogLevel)
	setIfChanged("log_format", "log-format", flagLogFormat)
	setIfChanged("shutdown_timeout", "shutdown-timeout", flagShutdownTimeout)
	setIfChanged("max_connections", "max-connections", flagMaxConnections)
	setIfChanged("metrics_addr", "metrics-addr", flagMetricsAddr)
	setIfChanged("metrics_log_interval", "metrics-log-interval", flagMetricsLogInterval)

	if cfgFile := GetConfigFile(); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	portExplicit := cmd.Flags().Changed("port")
	cfg, err := config.Load(v, portExplicit)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("vaultd starting", "storage_root", cfg.StorageRoot, "database_path", cfg.DatabasePath)

	repo, err := store.New(&store.Config{Path: cfg.DatabasePath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("error closing database", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state, err := vault.NewState(ctx, repo, cfg.StorageRoot)
	if err != nil {
		return fmt.Errorf("failed to bootstrap vault state: %w", err)
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	srv := server.NewBaseServer(server.Config{
		BindAddress:        cfg.ListenAddr,
		Port:               cfg.Port,
		MaxConnections:     cfg.MaxConnections,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.MetricsLogInterval,
	})
	srv.Metrics = recorder
	factory := &server.VaultConnectionFactory{State: state}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.NewHandler(registry)}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics endpoint stopped", "error", err)
			}
		}()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.ServeWithFactory(ctx, factory)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("vaultd is running. Press Ctrl+C to stop.", "port", cfg.Port)

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			runErr = err
		} else {
			logger.Info("vaultd stopped gracefully")
		}

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			runErr = err
		} else {
			logger.Info("vaultd stopped")
		}
	}

	if metricsSrv != nil {
		if err := metricsSrv.Close(); err != nil {
			logger.Warn("error closing metrics endpoint", "error", err)
		}
	}

	return runErr
}

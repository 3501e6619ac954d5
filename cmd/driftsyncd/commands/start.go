package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/driftsync/driftsync/internal/api/auth"
	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/internal/telemetry"
	"github.com/driftsync/driftsync/pkg/api"
	"github.com/driftsync/driftsync/pkg/blob"
	blobfs "github.com/driftsync/driftsync/pkg/blob/fs"
	blobs3 "github.com/driftsync/driftsync/pkg/blob/s3"
	"github.com/driftsync/driftsync/pkg/bus"
	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/engine"
	"github.com/driftsync/driftsync/pkg/metrics"
	"github.com/driftsync/driftsync/pkg/store"
	"github.com/driftsync/driftsync/pkg/upload"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DriftSync server",
	Long: `Start the DriftSync server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/driftsync/config.yaml.

Examples:
  # Start in background (default)
  driftsyncd start

  # Start in foreground
  driftsyncd start --foreground

  # Start with custom config file
  driftsyncd start --config /etc/driftsync/config.yaml

  # Start with environment variable overrides
  DRIFTSYNC_LOGGING_LEVEL=DEBUG driftsyncd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/driftsync/driftsyncd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/driftsync/driftsyncd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("no JWT secret configured; run 'driftsyncd init' or set DRIFTSYNC_AUTH_JWT_SECRET")
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "driftsync",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "driftsync",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	// Metrics must be initialized before any collector constructors run.
	var syncMetrics *metrics.SyncMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		syncMetrics = metrics.NewSyncMetrics()
		logger.Info("Metrics enabled", "endpoint", "/metrics")
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("Metadata store ready", "type", string(cfg.Database.Type))

	blobs, err := newBlobStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logger.Error("blob store close error", "error", err)
		}
	}()

	staging, err := blobfs.NewWithPath(cfg.Storage.StagingPath)
	if err != nil {
		return fmt.Errorf("failed to initialize staging storage: %w", err)
	}
	defer func() {
		if err := staging.Close(); err != nil {
			logger.Error("staging store close error", "error", err)
		}
	}()

	eventBus := bus.New(cfg.Bus.BusSettings())
	eventBus.SetMetrics(syncMetrics)

	eng := engine.New(st, blobs, eventBus, engine.WithMetrics(syncMetrics))

	uploads := upload.NewManager(st, staging, eng, cfg.Upload.ManagerConfig())
	uploads.SetMetrics(syncMetrics)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               cfg.Auth.JWTSecret,
		Issuer:               cfg.Auth.Issuer,
		AccessTokenDuration:  cfg.Auth.AccessTokenDuration,
		RefreshTokenDuration: cfg.Auth.RefreshTokenDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	apiServer := api.NewServer(cfg.API, api.Deps{
		Store:        st,
		Blobs:        blobs,
		Engine:       eng,
		Uploads:      uploads,
		Bus:          eventBus,
		JWTService:   jwtService,
		DefaultQuota: int64(cfg.Storage.DefaultUserQuota),
	})
	logger.Info("API server configured", "port", apiServer.Port())

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Start(gctx) })
	g.Go(func() error { return uploads.Run(gctx) })
	g.Go(func() error { return eventBus.Run(gctx) })

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// newBlobStore builds the configured blob backend.
func newBlobStore(ctx context.Context, cfg *config.StorageConfig) (blob.Store, error) {
	switch cfg.Backend {
	case config.StorageBackendS3:
		return blobs3.NewFromConfig(ctx, blobs3.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			KeyPrefix:      cfg.S3.KeyPrefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	case config.StorageBackendFS, "":
		return blobfs.New(blobfs.DefaultConfig(cfg.BasePath))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// startDaemon starts the server as a background daemon process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Refuse to double-start.
	if pid, err := readPidFile(pidPath); err == nil {
		if process, err := os.FindProcess(pid); err == nil {
			if err := process.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("DriftSync is already running (PID %d)\nUse 'driftsyncd stop' to stop the running instance", pid)
			}
		}
		// Stale PID file, remove it.
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from the parent session.
	daemon.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("DriftSync started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'driftsyncd stop' to stop the server")
	fmt.Println("Use 'driftsyncd status' to check server status")

	return nil
}

// readPidFile reads and parses a PID file.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}

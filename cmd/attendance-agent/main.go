package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shiftpunch/attendance/engine/internal/config"
	"github.com/shiftpunch/attendance/engine/internal/credentials"
	"github.com/shiftpunch/attendance/engine/internal/database"
	"github.com/shiftpunch/attendance/engine/internal/engine"
	"github.com/shiftpunch/attendance/engine/internal/logging"
	"github.com/shiftpunch/attendance/engine/internal/remote"
	"github.com/shiftpunch/attendance/engine/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attendance-agent",
		Short: "Offline-first attendance agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote attendance API base URL")
	cmd.PersistentFlags().String("remote-auth-token", "", "Remote bearer token (overrides env)")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Periodic sync trigger interval")
	cmd.PersistentFlags().Duration("auto-punch-period", defaults.GetDuration("auto_punch.period"), "Auto-checkout sweep interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.auth_token", "remote-auth-token")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "auto_punch.period", "auto-punch-period")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runAgent(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokens, err := credentials.NewCachingProvider(credentials.CachingProviderConfig{
		Source: credentials.StaticSource(appConfig.RemoteAuthToken),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	remoteClient := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL: appConfig.RemoteBaseURL,
		Tokens:  tokens,
		Timeout: appConfig.RemoteTimeout,
		Logger:  logger,
	})

	engineService, err := engine.NewService(engine.ServiceConfig{
		Database:       db,
		Clock:          time.Now,
		IDProvider:     engine.NewUUIDProvider(),
		Logger:         logger,
		Remote:         remoteClient,
		Credentials:    tokens,
		BackoffBase:    appConfig.BackoffBase,
		BackoffCeiling: appConfig.BackoffCeiling,
		DrainBatchSize: appConfig.SyncBatchSize,
		PullWindowDays: appConfig.PullWindowDays,
	})
	if err != nil {
		return err
	}

	events := server.NewEventDispatcher()
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine: engineService,
		Events: events,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runPeriodicSync(signalCtx, engineService, events, appConfig.SyncInterval, logger)
	go runAutoCheckoutSweep(signalCtx, engineService, events, appConfig.AutoPunchPeriod, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runPeriodicSync is the external sync trigger: the engine never schedules
// itself.
func runPeriodicSync(ctx context.Context, engineService *engine.Service, events *server.EventDispatcher, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports := engineService.SyncAllUsers(ctx)
			for userID, report := range reports {
				logger.Info("sync pass completed",
					zap.String("user_id", userID),
					zap.Int("pushed", report.Pushed),
					zap.Int("push_failures", report.PushFailures),
					zap.Int("pulled", report.Pulled),
					zap.Int64("pending", report.PendingCount),
					zap.Int64("dead_letters", report.DeadLetterCount))
				events.Publish(server.Event{
					UserID:    userID,
					EventType: server.EventSyncCompleted,
					Timestamp: time.Now(),
				})
			}
		}
	}
}

func runAutoCheckoutSweep(ctx context.Context, engineService *engine.Service, events *server.EventDispatcher, period time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkedOut, err := engineService.AutoCheckoutSweep(ctx)
			if err != nil {
				continue
			}
			for _, userID := range checkedOut {
				logger.Info("auto checkout recorded", zap.String("user_id", userID))
				events.Publish(server.Event{
					UserID:    userID,
					EventType: server.EventPunchRecorded,
					Timestamp: time.Now(),
				})
			}
		}
	}
}

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

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
	"github.com/akshay-panchakshari/yt-notes-app/internal/config"
	"github.com/akshay-panchakshari/yt-notes-app/internal/logging"
	"github.com/akshay-panchakshari/yt-notes-app/internal/remote"
	"github.com/akshay-panchakshari/yt-notes-app/internal/server"
	"github.com/akshay-panchakshari/yt-notes-app/internal/session"
	"github.com/akshay-panchakshari/yt-notes-app/internal/storage"
	"github.com/akshay-panchakshari/yt-notes-app/internal/store"
	"github.com/akshay-panchakshari/yt-notes-app/internal/syncer"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "yt-notes-agent",
		Short: "Local sync agent for timestamped YouTube video notes",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address for the local API")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("backend-base-url", defaults.GetString("backend.base_url"), "Note repository base URL (empty disables sync)")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Periodic push sync interval")
	cmd.PersistentFlags().Duration("sync-timeout", defaults.GetDuration("sync.timeout"), "Per-run sync timeout")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "backend.base_url", "backend-base-url")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "sync.timeout", "sync-timeout")
	bindFlag(cmd, "log.level", "log-level")
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

	kv, err := storage.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer kv.Close() //nolint:errcheck

	dispatcher := bus.NewDispatcher()

	noteStore, err := store.New(store.Config{
		KV:     kv,
		Bus:    dispatcher,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	sessions, err := session.NewProvider(session.Config{
		KV:  kv,
		Bus: dispatcher,
	})
	if err != nil {
		return err
	}

	repository := remote.NewClient(remote.Config{
		BaseURL:     appConfig.BackendBaseURL,
		TokenSource: sessions.Token,
		Logger:      logger,
	})

	orchestrator, err := syncer.New(syncer.Config{
		Store:    noteStore,
		Remote:   repository,
		Sessions: sessions,
		Bus:      dispatcher,
		KV:       kv,
		Interval: appConfig.SyncInterval,
		Timeout:  appConfig.SyncTimeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:    noteStore,
		Sessions: sessions,
		Sync:     orchestrator,
		Events:   server.NewEventFeed(dispatcher, logger),
		Logger:   logger,
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

	orchestrator.Start(signalCtx)
	defer orchestrator.Stop()

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

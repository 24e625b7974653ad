package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/sidedesk/chat-relay/config"
	"github.com/sidedesk/chat-relay/src/admin"
	"github.com/sidedesk/chat-relay/src/audit"
	"github.com/sidedesk/chat-relay/src/hub"
	"github.com/sidedesk/chat-relay/src/logging"
	"github.com/sidedesk/chat-relay/src/metrics"
	"github.com/sidedesk/chat-relay/src/server"
)

const samplingInterval = 10 * time.Second

func serveCmd() *cobra.Command {
	var configPath, adminConfigPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, adminConfigPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.json", "path to the server configuration file")
	cmd.Flags().StringVar(&adminConfigPath, "admin-config", "admin-config.json", "path to the admin configuration file")
	return cmd
}

func runServe(configPath, adminConfigPath string) error {
	store, err := config.Open(configPath, config.Default())
	if err != nil {
		return err
	}
	var cfg config.Config
	if err := store.Decode(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	adminStore, err := config.Open(adminConfigPath, config.DefaultAdmin())
	if err != nil {
		return err
	}
	var adminCfg config.AdminConfig
	if err := adminStore.Decode(&adminCfg); err != nil {
		return fmt.Errorf("decode admin config: %w", err)
	}
	if err := adminCfg.Validate(); err != nil {
		return fmt.Errorf("invalid admin config: %w", err)
	}

	logger, logCloser := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if logCloser != nil {
		defer logCloser.Close()
	}

	auditLog, err := audit.New(filepath.Join(cfg.Logging.Dir, "admin"), audit.Options{
		Enabled:         adminCfg.Audit.Enabled,
		LogAdminActions: adminCfg.Audit.LogAdminActions,
		AdminUsername:   adminCfg.Username,
		RetentionDays:   adminCfg.Audit.RetentionDays,
	}, logger)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	collector := metrics.New(samplingInterval, metrics.DefaultHistoryLength, logger)

	h := hub.New(hub.Options{
		MaxConnections:    cfg.Server.MaxConnections,
		RequireAuth:       cfg.Server.RequireAuth,
		HeartbeatInterval: cfg.Server.HeartbeatInterval(),
		ConnectionTimeout: cfg.Server.ConnectionTimeout(),
		SessionKeyPrefix:  cfg.Server.SessionKeyPrefix,
	}, collector, logger)
	go h.Run()
	collector.Start(h.ClientCount)

	authSvc := admin.NewService(admin.Options{
		Username:          adminCfg.Username,
		PasswordHash:      adminCfg.PasswordHash,
		SessionDuration:   adminCfg.SessionDuration(),
		IdleTimeout:       adminCfg.IdleTimeout(),
		MaxFailedAttempts: adminCfg.MaxFailedAttempts,
		PinSessionIP:      adminCfg.PinSessionIP,
	}, auditLog, logger)
	authSvc.Start()

	channel := admin.NewChannel(h, collector, authSvc, auditLog, samplingInterval, logger)
	channel.Start()

	if _, err := auditLog.RetentionSweep(); err != nil {
		logger.Error().Err(err).Msg("audit retention sweep failed")
	}
	sweeper := cron.New()
	_, _ = sweeper.AddFunc("30 0 * * *", func() {
		if _, err := auditLog.RetentionSweep(); err != nil {
			logger.Error().Err(err).Msg("audit retention sweep failed")
		}
	})
	sweeper.Start()

	srv := server.New(server.Deps{
		Config:     cfg,
		AdminCfg:   adminCfg,
		Store:      store,
		AdminStore: adminStore,
		Hub:        h,
		Channel:    channel,
		Auth:       authSvc,
		Metrics:    collector,
		Audit:      auditLog,
		Logger:     logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		// Bind failure is the only fatal startup condition.
		return err
	case got := <-sig:
		logger.Info().Str("signal", got.String()).Msg("shutting down")
	}

	channel.Stop()
	h.Stop()
	authSvc.Stop()
	collector.Stop()
	sweeper.Stop()
	return srv.Shutdown()
}

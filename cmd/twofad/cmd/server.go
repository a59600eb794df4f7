package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpetrov/twofad/admin"
	"github.com/mpetrov/twofad/audit"
	"github.com/mpetrov/twofad/auth"
	"github.com/mpetrov/twofad/config"
	"github.com/mpetrov/twofad/protocol"
	"github.com/mpetrov/twofad/server"
	"github.com/mpetrov/twofad/session"
	"github.com/mpetrov/twofad/storage"
	bboltstorage "github.com/mpetrov/twofad/storage/bbolt"
	"github.com/mpetrov/twofad/storage/memory"
	"github.com/mpetrov/twofad/storage/postgres"
	sqlitestorage "github.com/mpetrov/twofad/storage/sqlite"
	"github.com/mpetrov/twofad/totp"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		sessions := session.NewDirectory(logger)
		auditor := audit.NewLogger(logger)
		authority := auth.NewAuthority(store, auth.HasherByName(cfg.Hasher), logger,
			auth.WithTTLs(cfg.Pending.PairingTTL.Std(), cfg.Pending.NotificationTTL.Std()))

		srv := server.New(cfg.Listen, sessions, authority, nil, logger, auditor)
		if err := srv.Listen(); err != nil {
			return err
		}

		sched := totp.NewScheduler(sessions, func(conn int64, remaining uint32, payload string) {
			srv.Send(conn, protocol.CodeResponse{Remaining: remaining, Payload: payload})
		}, logger)
		srv.SetCodePusher(sched)

		go sched.Run(ctx)
		go authority.RunSweeper(ctx, cfg.Pending.NotificationTTL.Std())

		if cfg.Admin != "" {
			api := admin.New(sessions, store, logger)
			go func() {
				if err := api.Run(ctx, cfg.Admin); err != nil {
					logger.Error("admin api failed", "err", err)
				}
			}()
		}

		logger.Info("server starting", "listen", cfg.Listen, "backend", cfg.Storage.Backend)
		return srv.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStore builds the configured storage backend and its closer.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), func() {}, nil
	case "bbolt":
		s, err := bboltstorage.NewFromFile(cfg.Path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bbolt store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case "sqlite":
		s, err := sqlitestorage.NewFromFile(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := postgres.NewFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/config"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type app struct {
	cfgFile string
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:   "goguard",
		Short: "goguard - adaptive session security for admin panels",
		Long: `goguard issues short-lived admin sessions whose idle timeout depends on the
time of day and on the riskiest action performed.

Configuration is read from ./goguard.yaml or /etc/goguard/goguard.yaml unless
--config is given. Every scalar key can be overridden with a GOGUARD_ variable,
e.g. GOGUARD_STORE_ADDR=redis:6379.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./goguard.yaml)")

	root.AddCommand(
		a.serveCmd(),
		a.sweepCmd(),
		a.migrateCmd(),
		a.auditCmd(),
		a.fingerprintCmd(),
		a.configCmd(),
		a.hashPasswordCmd(),
	)
	return root
}

func (a *app) load() (*config.File, goGuard.Config, error) {
	f, err := config.Load(a.cfgFile)
	if err != nil {
		return nil, goGuard.Config{}, err
	}
	cfg, err := f.ToEngine()
	if err != nil {
		return nil, goGuard.Config{}, fmt.Errorf("config: %w", err)
	}
	return f, cfg, nil
}

func newLogger(f *config.File) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(f.Server.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if f.Server.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newRedis(cfg goGuard.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Addr,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
}

func openAuditStore(ctx context.Context, cfg goGuard.Config) (*auditlog.SQLStore, error) {
	dialect, err := auditlog.ParseDialect(cfg.AuditStore.Driver)
	if err != nil {
		return nil, err
	}
	return auditlog.Open(ctx, dialect, cfg.AuditStore.DSN)
}

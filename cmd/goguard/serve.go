package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/config"
	"github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the demo admin server",
		Long: `Run an HTTP server exposing the session endpoints under /auth, a few
risk-classified admin routes under /admin and Prometheus metrics on /metrics.

The config file is watched; policy, risk, monitor and signing-key changes are
applied without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	f, cfg, err := a.load()
	if err != nil {
		return err
	}
	logger := newLogger(f)

	rdb := newRedis(cfg)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.Store.Addr, err)
	}

	store, err := openAuditStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(auditlog.Up); err != nil {
		return err
	}

	var appender auditlog.Appender = store
	if cfg.AuditStore.JSONLinesPath != "" {
		mirror, err := os.OpenFile(cfg.AuditStore.JSONLinesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open audit mirror: %w", err)
		}
		defer mirror.Close()
		appender = auditlog.Tee{store, auditlog.NewJSONLinesWriter(mirror)}
	}

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(newStaticUsers(f.Users)).
		WithAuditAppender(appender).
		WithLogger(logger).
		WithWarningHandler(func(n goGuard.WarningNotice) {
			logger.Info("session warning",
				"session_id", n.SessionID,
				"user_id", n.UserID,
				"remaining", n.TimeRemaining.Round(time.Second),
				"risk_level", n.RiskLevel.String(),
			)
		}).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.StartSweeper()

	if a.cfgFile != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		engine.OnClose(cancel)
		err := config.Watch(watchCtx, a.cfgFile, func(next *config.File, err error) {
			if err != nil {
				logger.Warn("config reload skipped", "err", err)
				return
			}
			nextCfg, err := next.ToEngine()
			if err != nil {
				logger.Warn("config reload skipped", "err", err)
				return
			}
			// ApplyConfig logs and audits its own outcome.
			_ = engine.ApplyConfig(nextCfg)
		})
		if err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              f.Server.Addr,
		Handler:           newMux(engine),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.FlushAudit(flushCtx); err != nil {
		logger.Warn("audit flush incomplete", "err", err)
	}
	return nil
}

func newMux(engine *goGuard.Engine) *http.ServeMux {
	mux := http.NewServeMux()
	middleware.SessionHandlers{Engine: engine}.Register(mux, "/auth")

	listings := middleware.RequireSession(engine, middleware.ByMethod("VIEW_LISTINGS", map[string]string{
		http.MethodPost:   "EDIT_LISTING",
		http.MethodDelete: "DELETE_LISTING",
	}))
	mux.Handle("/admin/listings", listings(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.ClaimsFromContext(r.Context())
		writeJSON(w, map[string]string{"user_id": claims.UserID, "method": r.Method})
	})))

	backup := middleware.RequireSession(engine, middleware.Action("DATABASE_BACKUP"))
	mux.Handle("/admin/backup", backup(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "backup scheduled"})
	})))

	report := middleware.RequireSession(engine, middleware.Action("VIEW_AUDIT_LOG"))
	mux.Handle("/admin/security", report(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, engine.SecurityReport())
	})))

	mux.Handle("/metrics", prometheus.NewExporter(engine).Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := engine.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !h.Healthy() {
			slog.Default().Warn("health check failed", "redis_latency", h.RedisLatency)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, map[string]any{
			"redis":             h.RedisAvailable,
			"redis_latency_ms":  h.RedisLatency.Milliseconds(),
			"tracked":           h.Tracked,
			"warning":           h.Warning,
			"pending_reconcile": h.PendingReconcile,
			"audit_dropped":     h.AuditDropped,
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

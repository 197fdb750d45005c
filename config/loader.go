package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. GOGUARD_STORE_ADDR.
const EnvPrefix = "GOGUARD"

// newViper returns a viper instance with defaults and environment overrides.
// An empty path searches ./goguard.yaml and /etc/goguard/goguard.yaml.
func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("goguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/goguard")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
// Windows, tiers and users are lists and come from the file only.
func setDefaults(v *viper.Viper, d File) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.log_format", d.Server.LogFormat)

	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.private_key", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)

	v.SetDefault("session.max_concurrent_sessions", d.Session.MaxConcurrentSessions)

	v.SetDefault("policy.location", d.Policy.Location)
	v.SetDefault("policy.min_timeout", d.Policy.MinTimeout)
	v.SetDefault("policy.windows", windowMaps(d.Policy.Windows))
	v.SetDefault("policy.fallback.name", d.Policy.Fallback.Name)
	v.SetDefault("policy.fallback.start_hour", d.Policy.Fallback.StartHour)
	v.SetDefault("policy.fallback.end_hour", d.Policy.Fallback.EndHour)
	v.SetDefault("policy.fallback.base_idle_timeout", d.Policy.Fallback.BaseIdleTimeout)
	v.SetDefault("policy.fallback.warning_lead_time", d.Policy.Fallback.WarningLeadTime)
	v.SetDefault("risk.tiers", tierMaps(d.Risk.Tiers))

	v.SetDefault("monitor.tick_interval", d.Monitor.TickInterval)
	v.SetDefault("monitor.renotify_after", d.Monitor.RenotifyAfter)

	v.SetDefault("password.memory_kb", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)
	v.SetDefault("password.upgrade_on_login", d.Password.UpgradeOnLogin)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)
	v.SetDefault("audit.write_timeout", d.Audit.WriteTimeout)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("security.ip_throttle", d.Security.EnableIPThrottle)
	v.SetDefault("security.max_login_attempts", d.Security.MaxLoginAttempts)
	v.SetDefault("security.login_cooldown", d.Security.LoginCooldownDuration)
	v.SetDefault("security.refresh_interval", d.Security.RefreshInterval)
	v.SetDefault("security.refresh_burst", d.Security.RefreshBurst)
	v.SetDefault("security.store_retry_backoff", d.Security.StoreRetryBackoff)

	v.SetDefault("store.addr", d.Store.Addr)
	v.SetDefault("store.password", "")
	v.SetDefault("store.db", d.Store.DB)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.record_retention", d.Store.RecordRetention)
	v.SetDefault("store.sweep_interval", d.Store.SweepInterval)
	v.SetDefault("store.sweep_batch", d.Store.SweepBatch)

	v.SetDefault("audit_store.driver", d.AuditStore.Driver)
	v.SetDefault("audit_store.dsn", d.AuditStore.DSN)
	v.SetDefault("audit_store.jsonl_path", "")
}

func windowMaps(ws []WindowConfig) []map[string]any {
	out := make([]map[string]any, 0, len(ws))
	for _, w := range ws {
		out = append(out, map[string]any{
			"name":              w.Name,
			"start_hour":        w.StartHour,
			"end_hour":          w.EndHour,
			"base_idle_timeout": w.BaseIdleTimeout,
			"warning_lead_time": w.WarningLeadTime,
		})
	}
	return out
}

func tierMaps(ts []TierConfig) []map[string]any {
	out := make([]map[string]any, 0, len(ts))
	for _, t := range ts {
		out = append(out, map[string]any{
			"level":      t.Level,
			"multiplier": t.Multiplier,
			"actions":    append([]string(nil), t.Actions...),
		})
	}
	return out
}

// Load reads path (or the default search locations), applies GOGUARD_*
// overrides and validates the result. A missing file is only an error when
// path was given explicitly.
func Load(path string) (*File, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*File, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &f, nil
}

// Watch calls onChange with the re-read configuration every time the file at
// path is written. Invalid files are reported through the error argument and
// the previous configuration stays in effect at the caller. Events after ctx
// is done are ignored.
func Watch(ctx context.Context, path string, onChange func(*File, error)) error {
	if path == "" {
		return errors.New("config watch requires a file path")
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var stopped atomic.Bool
	go func() {
		<-ctx.Done()
		stopped.Store(true)
	}()

	v.OnConfigChange(func(e fsnotify.Event) {
		if stopped.Load() || !e.Has(fsnotify.Write|fsnotify.Create) {
			return
		}
		onChange(decode(v))
	})
	v.WatchConfig()
	return nil
}

// Render returns f as YAML with secrets masked.
func Render(f File) ([]byte, error) {
	out, err := yaml.Marshal(f.Redacted())
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return out, nil
}

// Package config loads goguard settings from a YAML, TOML or JSON file plus
// GOGUARD_* environment variables and turns them into a goGuard.Config.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/policy"
	"github.com/MrEthical07/goGuard/risk"
)

// File is the on-disk configuration. Durations accept Go duration strings.
type File struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	JWT        JWTConfig        `yaml:"jwt" mapstructure:"jwt"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Monitor    MonitorConfig    `yaml:"monitor" mapstructure:"monitor"`
	Password   PasswordConfig   `yaml:"password" mapstructure:"password"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	AuditStore AuditStoreConfig `yaml:"audit_store" mapstructure:"audit_store"`
	Users      []UserConfig     `yaml:"users" mapstructure:"users" validate:"omitempty,dive"`
}

// ServerConfig configures the demo admin server.
type ServerConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	LogLevel  string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"oneof=text json"`
}

// JWTConfig holds token settings. Keys are base64 or PEM, inline or from a file.
type JWTConfig struct {
	AccessTTL      time.Duration `yaml:"access_ttl" mapstructure:"access_ttl" validate:"gt=0"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" mapstructure:"refresh_ttl" validate:"gtefield=AccessTTL"`
	SigningMethod  string        `yaml:"signing_method" mapstructure:"signing_method" validate:"oneof=ed25519 hs256"`
	PrivateKey     string        `yaml:"private_key" mapstructure:"private_key"`
	PrivateKeyFile string        `yaml:"private_key_file" mapstructure:"private_key_file" validate:"omitempty,file"`
	PublicKey      string        `yaml:"public_key" mapstructure:"public_key"`
	PublicKeyFile  string        `yaml:"public_key_file" mapstructure:"public_key_file" validate:"omitempty,file"`
	KeyID          string        `yaml:"key_id" mapstructure:"key_id"`
	Issuer         string        `yaml:"issuer" mapstructure:"issuer"`
	Audience       string        `yaml:"audience" mapstructure:"audience"`
	Leeway         time.Duration `yaml:"leeway" mapstructure:"leeway" validate:"gte=0,lte=2m"`
}

// SessionConfig bounds concurrent sessions. Zero disables the limit.
type SessionConfig struct {
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions" mapstructure:"max_concurrent_sessions" validate:"gte=0"`
}

// WindowConfig is one idle-timeout window.
type WindowConfig struct {
	Name            string        `yaml:"name" mapstructure:"name" validate:"required"`
	StartHour       int           `yaml:"start_hour" mapstructure:"start_hour" validate:"gte=0,lte=23"`
	EndHour         int           `yaml:"end_hour" mapstructure:"end_hour" validate:"gte=0,lte=23"`
	BaseIdleTimeout time.Duration `yaml:"base_idle_timeout" mapstructure:"base_idle_timeout" validate:"gt=0"`
	WarningLeadTime time.Duration `yaml:"warning_lead_time" mapstructure:"warning_lead_time" validate:"gte=0"`
}

// PolicyConfig holds the windows. Location is an IANA name; empty means local time.
type PolicyConfig struct {
	Location   string         `yaml:"location" mapstructure:"location" validate:"omitempty,timezone"`
	MinTimeout time.Duration  `yaml:"min_timeout" mapstructure:"min_timeout" validate:"gte=0"`
	Windows    []WindowConfig `yaml:"windows" mapstructure:"windows" validate:"required,min=1,dive"`
	Fallback   WindowConfig   `yaml:"fallback" mapstructure:"fallback"`
}

// TierConfig is one risk tier.
type TierConfig struct {
	Level      string   `yaml:"level" mapstructure:"level" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Multiplier float64  `yaml:"multiplier" mapstructure:"multiplier" validate:"gt=0,lte=1"`
	Actions    []string `yaml:"actions" mapstructure:"actions" validate:"dive,required"`
}

// RiskConfig holds the action classification table.
type RiskConfig struct {
	Tiers []TierConfig `yaml:"tiers" mapstructure:"tiers" validate:"len=4,dive"`
}

// MonitorConfig controls the per-session monitor.
type MonitorConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval" mapstructure:"tick_interval" validate:"gt=0"`
	RenotifyAfter time.Duration `yaml:"renotify_after" mapstructure:"renotify_after" validate:"gt=0"`
}

// PasswordConfig holds argon2id costs.
type PasswordConfig struct {
	Memory         uint32 `yaml:"memory_kb" mapstructure:"memory_kb" validate:"gte=8192"`
	Time           uint32 `yaml:"time" mapstructure:"time" validate:"gte=1"`
	Parallelism    uint8  `yaml:"parallelism" mapstructure:"parallelism" validate:"gte=1"`
	SaltLength     uint32 `yaml:"salt_length" mapstructure:"salt_length" validate:"gte=16"`
	KeyLength      uint32 `yaml:"key_length" mapstructure:"key_length" validate:"gte=16"`
	UpgradeOnLogin bool   `yaml:"upgrade_on_login" mapstructure:"upgrade_on_login"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	BufferSize   int           `yaml:"buffer_size" mapstructure:"buffer_size" validate:"required_if=Enabled true,gte=0"`
	DropIfFull   bool          `yaml:"drop_if_full" mapstructure:"drop_if_full"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gte=0"`
}

// MetricsConfig toggles counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled" mapstructure:"enabled"`
	EnableLatencyHistograms bool `yaml:"latency_histograms" mapstructure:"latency_histograms"`
}

// SecurityConfig holds throttles and the store retry backoff.
type SecurityConfig struct {
	EnableIPThrottle      bool          `yaml:"ip_throttle" mapstructure:"ip_throttle"`
	MaxLoginAttempts      int           `yaml:"max_login_attempts" mapstructure:"max_login_attempts" validate:"gt=0"`
	LoginCooldownDuration time.Duration `yaml:"login_cooldown" mapstructure:"login_cooldown" validate:"gt=0"`
	RefreshInterval       time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval" validate:"gte=0"`
	RefreshBurst          int           `yaml:"refresh_burst" mapstructure:"refresh_burst" validate:"gte=0"`
	StoreRetryBackoff     time.Duration `yaml:"store_retry_backoff" mapstructure:"store_retry_backoff" validate:"gte=0"`
}

// StoreConfig describes the Redis session store.
type StoreConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	Password        string        `yaml:"password" mapstructure:"password"`
	DB              int           `yaml:"db" mapstructure:"db" validate:"gte=0"`
	Prefix          string        `yaml:"prefix" mapstructure:"prefix" validate:"required"`
	RecordRetention time.Duration `yaml:"record_retention" mapstructure:"record_retention" validate:"gt=0"`
	SweepInterval   time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"gt=0"`
	SweepBatch      int           `yaml:"sweep_batch" mapstructure:"sweep_batch" validate:"gt=0"`
}

// AuditStoreConfig describes the SQL audit store.
type AuditStoreConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN           string `yaml:"dsn" mapstructure:"dsn" validate:"required"`
	JSONLinesPath string `yaml:"jsonl_path" mapstructure:"jsonl_path"`
}

// UserConfig is a static admin account for the demo server.
type UserConfig struct {
	UserID       string `yaml:"id" mapstructure:"id" validate:"required"`
	Email        string `yaml:"email" mapstructure:"email" validate:"required,email"`
	Role         string `yaml:"role" mapstructure:"role"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash" validate:"required"`
	Disabled     bool   `yaml:"disabled" mapstructure:"disabled"`
}

// Default mirrors goGuard.DefaultConfig plus the server section.
func Default() File {
	d := goGuard.DefaultConfig()

	windows := make([]WindowConfig, 0, len(d.Policy.Windows))
	for _, w := range d.Policy.Windows {
		windows = append(windows, fromWindow(w))
	}
	tiers := make([]TierConfig, 0, len(d.Risk.Tiers))
	for _, t := range d.Risk.Tiers {
		tiers = append(tiers, TierConfig{
			Level:      t.Level.String(),
			Multiplier: t.Multiplier,
			Actions:    append([]string(nil), t.Actions...),
		})
	}

	return File{
		Server: ServerConfig{Addr: "127.0.0.1:8080", LogLevel: "info", LogFormat: "text"},
		JWT: JWTConfig{
			AccessTTL:     d.JWT.AccessTTL,
			RefreshTTL:    d.JWT.RefreshTTL,
			SigningMethod: d.JWT.SigningMethod,
			Issuer:        d.JWT.Issuer,
			Audience:      d.JWT.Audience,
			Leeway:        d.JWT.Leeway,
		},
		Session: SessionConfig{MaxConcurrentSessions: d.Session.MaxConcurrentSessions},
		Policy: PolicyConfig{
			MinTimeout: d.Policy.MinTimeout,
			Windows:    windows,
			Fallback:   fromWindow(d.Policy.Fallback),
		},
		Risk:    RiskConfig{Tiers: tiers},
		Monitor: MonitorConfig{TickInterval: d.Monitor.TickInterval, RenotifyAfter: d.Monitor.RenotifyAfter},
		Password: PasswordConfig{
			Memory:         d.Password.Memory,
			Time:           d.Password.Time,
			Parallelism:    d.Password.Parallelism,
			SaltLength:     d.Password.SaltLength,
			KeyLength:      d.Password.KeyLength,
			UpgradeOnLogin: d.Password.UpgradeOnLogin,
		},
		Audit: AuditConfig{
			Enabled:      d.Audit.Enabled,
			BufferSize:   d.Audit.BufferSize,
			DropIfFull:   d.Audit.DropIfFull,
			WriteTimeout: d.Audit.WriteTimeout,
		},
		Metrics: MetricsConfig{Enabled: d.Metrics.Enabled, EnableLatencyHistograms: d.Metrics.EnableLatencyHistograms},
		Security: SecurityConfig{
			EnableIPThrottle:      d.Security.EnableIPThrottle,
			MaxLoginAttempts:      d.Security.MaxLoginAttempts,
			LoginCooldownDuration: d.Security.LoginCooldownDuration,
			RefreshInterval:       d.Security.RefreshInterval,
			RefreshBurst:          d.Security.RefreshBurst,
			StoreRetryBackoff:     d.Security.StoreRetryBackoff,
		},
		Store: StoreConfig{
			Addr:            d.Store.Addr,
			DB:              d.Store.DB,
			Prefix:          d.Store.Prefix,
			RecordRetention: d.Store.RecordRetention,
			SweepInterval:   d.Store.SweepInterval,
			SweepBatch:      d.Store.SweepBatch,
		},
		AuditStore: AuditStoreConfig{Driver: d.AuditStore.Driver, DSN: d.AuditStore.DSN},
	}
}

func fromWindow(w policy.Window) WindowConfig {
	return WindowConfig{
		Name:            w.Name,
		StartHour:       w.StartHour,
		EndHour:         w.EndHour,
		BaseIdleTimeout: w.BaseIdleTimeout,
		WarningLeadTime: w.WarningLeadTime,
	}
}

func (w WindowConfig) toPolicy() policy.Window {
	return policy.Window{
		Name:            w.Name,
		StartHour:       w.StartHour,
		EndHour:         w.EndHour,
		BaseIdleTimeout: w.BaseIdleTimeout,
		WarningLeadTime: w.WarningLeadTime,
	}
}

// ToEngine resolves keys and the location and returns the engine
// configuration. The result is validated by goGuard.Config.Validate.
func (f *File) ToEngine() (goGuard.Config, error) {
	cfg := goGuard.DefaultConfig()

	priv, err := keyMaterial(f.JWT.PrivateKey, f.JWT.PrivateKeyFile)
	if err != nil {
		return goGuard.Config{}, fmt.Errorf("jwt private key: %w", err)
	}
	pub, err := keyMaterial(f.JWT.PublicKey, f.JWT.PublicKeyFile)
	if err != nil {
		return goGuard.Config{}, fmt.Errorf("jwt public key: %w", err)
	}
	cfg.JWT = goGuard.JWTConfig{
		AccessTTL:     f.JWT.AccessTTL,
		RefreshTTL:    f.JWT.RefreshTTL,
		SigningMethod: f.JWT.SigningMethod,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        f.JWT.Issuer,
		Audience:      f.JWT.Audience,
		Leeway:        f.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         f.JWT.KeyID,
	}

	cfg.Session.MaxConcurrentSessions = f.Session.MaxConcurrentSessions

	loc := time.Local
	if f.Policy.Location != "" {
		if loc, err = time.LoadLocation(f.Policy.Location); err != nil {
			return goGuard.Config{}, fmt.Errorf("policy location: %w", err)
		}
	}
	windows := make([]policy.Window, 0, len(f.Policy.Windows))
	for _, w := range f.Policy.Windows {
		windows = append(windows, w.toPolicy())
	}
	cfg.Policy = goGuard.PolicyConfig{
		Windows:    windows,
		Fallback:   f.Policy.Fallback.toPolicy(),
		MinTimeout: f.Policy.MinTimeout,
		Location:   loc,
	}

	tiers := make([]risk.Tier, 0, len(f.Risk.Tiers))
	for _, t := range f.Risk.Tiers {
		level, err := risk.ParseLevel(t.Level)
		if err != nil {
			return goGuard.Config{}, fmt.Errorf("risk tier: %w", err)
		}
		tiers = append(tiers, risk.Tier{
			Level:      level,
			Multiplier: t.Multiplier,
			Actions:    append([]string(nil), t.Actions...),
		})
	}
	cfg.Risk.Tiers = tiers

	cfg.Monitor = goGuard.MonitorConfig{TickInterval: f.Monitor.TickInterval, RenotifyAfter: f.Monitor.RenotifyAfter}
	cfg.Password = goGuard.PasswordConfig{
		Memory:         f.Password.Memory,
		Time:           f.Password.Time,
		Parallelism:    f.Password.Parallelism,
		SaltLength:     f.Password.SaltLength,
		KeyLength:      f.Password.KeyLength,
		UpgradeOnLogin: f.Password.UpgradeOnLogin,
	}
	cfg.Audit = goGuard.AuditConfig{
		Enabled:      f.Audit.Enabled,
		BufferSize:   f.Audit.BufferSize,
		DropIfFull:   f.Audit.DropIfFull,
		WriteTimeout: f.Audit.WriteTimeout,
	}
	cfg.Metrics = goGuard.MetricsConfig{Enabled: f.Metrics.Enabled, EnableLatencyHistograms: f.Metrics.EnableLatencyHistograms}
	cfg.Security = goGuard.SecurityConfig{
		EnableIPThrottle:      f.Security.EnableIPThrottle,
		MaxLoginAttempts:      f.Security.MaxLoginAttempts,
		LoginCooldownDuration: f.Security.LoginCooldownDuration,
		RefreshInterval:       f.Security.RefreshInterval,
		RefreshBurst:          f.Security.RefreshBurst,
		StoreRetryBackoff:     f.Security.StoreRetryBackoff,
	}
	cfg.Store = goGuard.StoreConfig{
		Addr:            f.Store.Addr,
		Password:        f.Store.Password,
		DB:              f.Store.DB,
		Prefix:          f.Store.Prefix,
		RecordRetention: f.Store.RecordRetention,
		SweepInterval:   f.Store.SweepInterval,
		SweepBatch:      f.Store.SweepBatch,
	}
	cfg.AuditStore = goGuard.AuditStoreConfig{
		Driver:        f.AuditStore.Driver,
		DSN:           f.AuditStore.DSN,
		JSONLinesPath: f.AuditStore.JSONLinesPath,
	}

	if err := cfg.Validate(); err != nil {
		return goGuard.Config{}, err
	}
	return cfg, nil
}

// keyMaterial returns PEM text as-is and decodes anything else as base64.
// A file takes precedence over the inline value.
func keyMaterial(inline, path string) ([]byte, error) {
	raw := inline
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = string(b)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "-----BEGIN") {
		return []byte(raw), nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("key must be PEM or base64")
	}
	return b, nil
}

// Redacted returns a copy with secrets masked, for printing.
func (f File) Redacted() File {
	out := f
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.JWT.PrivateKey = mask(f.JWT.PrivateKey)
	out.Store.Password = mask(f.Store.Password)
	out.AuditStore.DSN = mask(f.AuditStore.DSN)
	out.Users = make([]UserConfig, len(f.Users))
	for i, u := range f.Users {
		u.PasswordHash = mask(u.PasswordHash)
		out.Users[i] = u
	}
	return out
}

package goGuard

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/policy"
	"github.com/MrEthical07/goGuard/risk"
)

// Config is the complete engine configuration.
//
// Config values are copied by the Builder and by ApplyConfig; mutating a
// Config after handing it over has no effect on a running Engine.
type Config struct {
	JWT        JWTConfig
	Session    SessionConfig
	Policy     PolicyConfig
	Risk       RiskConfig
	Monitor    MonitorConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Security   SecurityConfig
	Store      StoreConfig
	AuditStore AuditStoreConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. Keys and key IDs are hot-reloadable.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION & POLICY CONFIG
====================================
*/

// SessionConfig bounds concurrent sessions per user. Zero disables the limit.
type SessionConfig struct {
	MaxConcurrentSessions int
}

// PolicyConfig holds the idle-timeout windows.
type PolicyConfig struct {
	Windows    []policy.Window
	Fallback   policy.Window
	MinTimeout time.Duration
	Location   *time.Location
}

// RiskConfig holds the action classification tiers.
type RiskConfig struct {
	Tiers []risk.Tier
}

// MonitorConfig controls the per-session monitor.
type MonitorConfig struct {
	TickInterval  time.Duration
	RenotifyAfter time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds throttles and the store retry backoff.
type SecurityConfig struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration

	// RefreshInterval and RefreshBurst bound refresh and extend calls per session.
	RefreshInterval time.Duration
	RefreshBurst    int

	StoreRetryBackoff time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig describes the Redis session store. Addr, Password and DB are
// used by callers that let goguard dial Redis; the Builder takes a client.
type StoreConfig struct {
	Addr            string
	Password        string
	DB              int
	Prefix          string
	RecordRetention time.Duration
	SweepInterval   time.Duration
	SweepBatch      int
}

// AuditStoreConfig describes the SQL audit store and the optional JSON-lines mirror.
type AuditStoreConfig struct {
	Driver        string // "sqlite" (default) or "postgres"
	DSN           string
	JSONLinesPath string
}

// DefaultConfig returns the production defaults. Signing keys must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	pc := policy.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    8 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "goguard",
			Audience:      "goguard-admin",
			MaxFutureIAT:  10 * time.Minute,
		},
		Session: SessionConfig{
			MaxConcurrentSessions: 3,
		},
		Policy: PolicyConfig{
			Windows:    pc.Windows,
			Fallback:   pc.Fallback,
			MinTimeout: pc.MinTimeout,
			Location:   pc.Location,
		},
		Risk: RiskConfig{
			Tiers: risk.DefaultTiers(),
		},
		Monitor: MonitorConfig{
			TickInterval:  30 * time.Second,
			RenotifyAfter: 5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:      true,
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Security: SecurityConfig{
			EnableIPThrottle:      true,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			RefreshInterval:       10 * time.Second,
			RefreshBurst:          3,
			StoreRetryBackoff:     50 * time.Millisecond,
		},
		Store: StoreConfig{
			Addr:            "127.0.0.1:6379",
			Prefix:          "gg",
			RecordRetention: 30 * 24 * time.Hour,
			SweepInterval:   time.Minute,
			SweepBatch:      500,
		},
		AuditStore: AuditStoreConfig{
			Driver: string(auditlog.DialectSQLite),
			DSN:    "goguard_audit.db",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.Policy.Windows = append([]policy.Window(nil), cfg.Policy.Windows...)
	if cfg.Risk.Tiers != nil {
		out.Risk.Tiers = make([]risk.Tier, len(cfg.Risk.Tiers))
		for i, tier := range cfg.Risk.Tiers {
			tier.Actions = append([]string(nil), tier.Actions...)
			out.Risk.Tiers[i] = tier
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports every invalid field, joined. Signing keys, windows and the
// risk table are checked again when the runtime is built from them.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		fail("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		fail("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		fail("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if len(c.JWT.PrivateKey) == 0 {
		fail("JWT PrivateKey is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		fail("JWT Leeway must be in [0, 2m]")
	}

	// Session
	if c.Session.MaxConcurrentSessions < 0 {
		fail("Session MaxConcurrentSessions must be >= 0")
	}

	// Policy
	if len(c.Policy.Windows) == 0 {
		fail("Policy requires at least one window")
	}
	if c.Policy.MinTimeout < 0 {
		fail("Policy MinTimeout must be >= 0")
	}

	// Monitor
	if c.Monitor.TickInterval <= 0 {
		fail("Monitor TickInterval must be > 0")
	}
	if c.Monitor.RenotifyAfter <= 0 {
		fail("Monitor RenotifyAfter must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		fail("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		fail("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		fail("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		fail("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		fail("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		fail("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		fail("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		fail("Security LoginCooldownDuration must be > 0")
	}
	if c.Security.RefreshInterval < 0 {
		fail("Security RefreshInterval must be >= 0")
	}
	if c.Security.StoreRetryBackoff < 0 {
		fail("Security StoreRetryBackoff must be >= 0")
	}

	// Store
	if c.Store.Prefix == "" {
		fail("Store Prefix is required")
	}
	if c.Store.RecordRetention <= 0 {
		fail("Store RecordRetention must be > 0")
	}
	if c.Store.SweepInterval <= 0 {
		fail("Store SweepInterval must be > 0")
	}
	if c.Store.SweepBatch <= 0 {
		fail("Store SweepBatch must be > 0")
	}

	// Audit store
	if _, err := auditlog.ParseDialect(c.AuditStore.Driver); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// applyReloadable copies the hot-reloadable sections of next onto c.
func (c Config) applyReloadable(next Config) Config {
	out := cloneConfig(c)
	out.JWT = cloneConfig(next).JWT
	out.Policy = cloneConfig(next).Policy
	out.Risk = cloneConfig(next).Risk
	out.Monitor = next.Monitor
	out.Session.MaxConcurrentSessions = next.Session.MaxConcurrentSessions
	return out
}

package goGuard

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/fingerprint"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/policy"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "admin@example.com"
	testPassword = "correct-horse-battery"
)

var (
	laptop = fingerprint.Signals{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64)",
		Locale:              "en-GB",
		ScreenSize:          "1920x1080",
		TimezoneOffset:      0,
		CanvasHash:          "c4nv4s",
		HardwareConcurrency: 8,
		DeviceMemory:        16,
	}
	phone = fingerprint.Signals{
		UserAgent:           "Mozilla/5.0 (iPhone)",
		Locale:              "en-GB",
		ScreenSize:          "390x844",
		CanvasHash:          "ph0ne",
		HardwareConcurrency: 6,
		DeviceMemory:        4,
	}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memAppender struct {
	mu      sync.Mutex
	entries []auditlog.Entry
	events  []auditlog.SecurityEvent
}

func (a *memAppender) Append(_ context.Context, e auditlog.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAppender) AppendSecurityEvent(_ context.Context, e auditlog.SecurityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *memAppender) entriesFor(action string) []auditlog.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditlog.Entry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (a *memAppender) eventsOf(eventType string) []auditlog.SecurityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditlog.SecurityEvent
	for _, e := range a.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type stubUsers struct {
	byEmail map[string]UserRecord
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (UserRecord, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func testPasswordConfig() PasswordConfig {
	return PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newStubUsers(t testing.TB) *stubUsers {
	t.Helper()
	pc := testPasswordConfig()
	h, err := password.NewHasher(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
	})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	hash, err := h.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &stubUsers{byEmail: map[string]UserRecord{
		testEmail: {
			UserID:       "u-1",
			Email:        testEmail,
			Role:         "admin",
			PasswordHash: hash,
		},
		"disabled@example.com": {
			UserID:       "u-2",
			Email:        "disabled@example.com",
			Role:         "admin",
			PasswordHash: hash,
			Disabled:     true,
		},
	}}
}

func testConfig(t testing.TB) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Policy.Location = time.UTC
	cfg.Password = testPasswordConfig()
	cfg.Security.StoreRetryBackoff = time.Millisecond
	cfg.Security.RefreshInterval = 0
	return cfg
}

type testEnv struct {
	engine *Engine
	clock  *policy.FakeClock
	audit  *memAppender
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *stubUsers
	cfg    Config

	mu       sync.Mutex
	warnings []WarningNotice
}

func (env *testEnv) notices() []WarningNotice {
	env.mu.Lock()
	defer env.mu.Unlock()
	out := make([]WarningNotice, len(env.warnings))
	copy(out, env.warnings)
	return out
}

// newTestEnv builds an engine over miniredis with a fake clock at start.
func newTestEnv(t testing.TB, start time.Time, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		clock: policy.NewFakeClock(start),
		audit: &memAppender{},
		mr:    mr,
		rdb:   rdb,
		users: newStubUsers(t),
		cfg:   cfg,
	}
	env.engine = env.build(t)
	return env
}

// build starts another engine over the same Redis, clock and keys.
func (env *testEnv) build(t testing.TB) *Engine {
	t.Helper()
	engine, err := New().
		WithConfig(env.cfg).
		WithRedis(env.rdb).
		WithUserProvider(env.users).
		WithAuditAppender(env.audit).
		WithLogger(testLogger()).
		WithClock(env.clock).
		WithWarningHandler(func(n WarningNotice) {
			env.mu.Lock()
			env.warnings = append(env.warnings, n)
			env.mu.Unlock()
		}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func (env *testEnv) login(t testing.TB, signals fingerprint.Signals) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), testEmail, testPassword, signals)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

// flushStore writes the queued session store updates of env.engine.
func (env *testEnv) flushStore(t testing.TB) {
	t.Helper()
	if err := env.engine.FlushStore(context.Background()); err != nil {
		t.Fatalf("flush store: %v", err)
	}
}

// flush writes queued store updates, then waits for the audit trail they and
// earlier calls produced.
func (env *testEnv) flush(t testing.TB) {
	t.Helper()
	env.flushStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.engine.FlushAudit(ctx); err != nil {
		t.Fatalf("flush audit: %v", err)
	}
}

func (env *testEnv) status(t testing.TB, sessionID string) SessionStatus {
	t.Helper()
	st, err := env.engine.Status(sessionID)
	if err != nil {
		t.Fatalf("status %s: %v", sessionID, err)
	}
	return st
}

// at10 is a Monday at 10:00 UTC, inside the work-hours window.
func at10() time.Time {
	return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
}

// at23 is the same Monday at 23:00 UTC, inside the night window.
func at23() time.Time {
	return time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
}

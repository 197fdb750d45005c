package goGuard

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/policy"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// terminalGrace is how long a terminal session stays visible to Status before
// it is pruned from memory.
const terminalGrace = 15 * time.Minute

// Engine is the adaptive session controller.
//
// It owns the in-memory state machine of every session it issued: deadlines,
// risk ratchet, warnings and the per-session monitors. Redis holds the
// authoritative revocation state; the SQL audit store receives every
// security-relevant transition through an asynchronous dispatcher.
//
// An Engine is safe for concurrent use. Call Close to stop its goroutines.
type Engine struct {
	rt       atomic.Pointer[runtime]
	reloadMu sync.Mutex

	store    *session.Store
	limiter  *rate.Limiter
	throttle *rate.SessionThrottle
	hasher   *password.Hasher
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	users    UserProvider
	clock    policy.Clock
	logger   *slog.Logger

	onWarning func(WarningNotice)

	flight singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*tracked
	closed   bool
	onClose  []func()

	wg          sync.WaitGroup
	done        chan struct{}
	closeOnce   sync.Once
	sweeperOnce sync.Once
}

// runtime is the hot-reloadable part of the engine. It is replaced whole,
// never mutated.
type runtime struct {
	cfg        Config
	policy     *policy.Policy
	classifier *risk.Classifier
	tokens     *jwt.Manager
}

type engineDeps struct {
	redis     redis.UniversalClient
	users     UserProvider
	appender  auditlog.Appender
	logger    *slog.Logger
	clock     policy.Clock
	onWarning func(WarningNotice)
}

func newEngine(cfg Config, deps engineDeps) (*Engine, error) {
	rt, err := buildRuntime(cfg, deps.clock)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store: session.NewStore(deps.redis, cfg.Store.Prefix, cfg.Store.RecordRetention),
		limiter: rate.New(deps.redis, rate.Config{
			Prefix:                cfg.Store.Prefix,
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		}),
		throttle:  rate.NewSessionThrottle(cfg.Security.RefreshInterval, cfg.Security.RefreshBurst),
		hasher:    hasher,
		metrics:   NewMetrics(cfg.Metrics),
		users:     deps.users,
		clock:     deps.clock,
		logger:    deps.logger,
		onWarning: deps.onWarning,
		sessions:  make(map[string]*tracked),
		done:      make(chan struct{}),
	}
	e.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:      cfg.Audit.Enabled,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, deps.appender, deps.logger)
	e.rt.Store(rt)

	return e, nil
}

func buildRuntime(cfg Config, clock policy.Clock) (*runtime, error) {
	table, err := risk.NewTable(cfg.Risk.Tiers)
	if err != nil {
		return nil, err
	}

	pol, err := policy.New(policy.Config{
		Windows:    cfg.Policy.Windows,
		Fallback:   cfg.Policy.Fallback,
		MinTimeout: cfg.Policy.MinTimeout,
		Location:   cfg.Policy.Location,
	}, table)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cloneConfig(cfg).JWT.VerifyKeys,
		Now:           clock.Now,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:        cloneConfig(cfg),
		policy:     pol,
		classifier: risk.NewClassifier(table),
		tokens:     tokens,
	}, nil
}

func (e *Engine) runtime() *runtime {
	return e.rt.Load()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.runtime().cfg)
}

// Policy returns the active timeout policy.
func (e *Engine) Policy() *policy.Policy {
	return e.runtime().policy
}

// Store returns the session store the engine writes to.
func (e *Engine) Store() *session.Store {
	return e.store
}

// Close stops every monitor, the sweeper and registered close hooks, then
// drains the audit dispatcher. Close is idempotent.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		hooks := e.onClose
		e.onClose = nil
		e.mu.Unlock()

		for _, fn := range hooks {
			fn()
		}
		close(e.done)
		e.wg.Wait()

		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// OnClose registers fn to run when the engine closes, before monitors stop.
// It is used to tie a config watcher to the engine lifetime.
func (e *Engine) OnClose(fn func()) {
	if e == nil || fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		fn()
		return
	}
	e.onClose = append(e.onClose, fn)
}

// FlushAudit waits until every audit record emitted so far has been written.
func (e *Engine) FlushAudit(ctx context.Context) error {
	if e == nil || e.audit == nil {
		return nil
	}
	return e.audit.Flush(ctx)
}

// AuditDropped returns the number of audit records dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Metrics returns the engine counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// VerifyAccess checks an access token's signature, expiry, kind and device
// binding. It has no side effects. An empty fingerprint skips the device check.
func (e *Engine) VerifyAccess(token, fingerprint string) (*jwt.AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.runtime().tokens.VerifyAccess(token, fingerprint)
	if err != nil {
		return claims, authError(err)
	}
	return claims, nil
}

// VerifyRefresh is the refresh-token counterpart of VerifyAccess.
func (e *Engine) VerifyRefresh(token, fingerprint string) (*jwt.RefreshClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.runtime().tokens.VerifyRefresh(token, fingerprint)
	if err != nil {
		return claims, authError(err)
	}
	return claims, nil
}

// ClassifyAction returns the risk level of action. Unknown actions resolve to
// MEDIUM together with a *PolicyError.
func (e *Engine) ClassifyAction(action string) (risk.Level, error) {
	level, err := e.runtime().classifier.ClassifyStrict(action)
	if errors.Is(err, risk.ErrUnknownAction) {
		return level, &PolicyError{Code: PolicyUnknownAction, Action: action}
	}
	return level, err
}

// Status derives the UI view of sessionID at the engine clock's now.
func (e *Engine) Status(sessionID string) (SessionStatus, error) {
	if e == nil {
		return SessionStatus{State: StateAnonymous}, ErrEngineNotReady
	}
	t := e.lookup(sessionID)
	if t == nil {
		return SessionStatus{State: StateAnonymous}, ErrSessionNotFound
	}
	now := e.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(now), nil
}

// ActiveSessions lists active sessions from the store, most recently active
// first. An empty userID lists every user. Sessions tracked by this engine
// carry their live state.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]ActiveSession, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	records, err := e.store.ListActive(ctx, userID)
	if err != nil {
		return nil, storeError("list", err)
	}
	now := e.clock.Now()

	out := make([]ActiveSession, 0, len(records))
	for _, rec := range records {
		row := ActiveSession{Session: *rec, State: StateAuthenticated}
		if rec.Expired(now) {
			row.State = StateExpired
		}
		if t := e.lookup(rec.ID); t != nil {
			t.mu.Lock()
			st := t.statusLocked(now)
			t.mu.Unlock()
			row.Tracked = true
			row.State = st.State
			row.RiskLevel = st.RiskLevel
			row.ExpiresAt = st.Deadline
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (e *Engine) lookup(sessionID string) *tracked {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}

// snapshotTracked returns the tracked sessions at this instant.
func (e *Engine) snapshotTracked() []*tracked {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*tracked, 0, len(e.sessions))
	for _, t := range e.sessions {
		out = append(out, t)
	}
	return out
}

func (e *Engine) prune(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.sessions {
		t.mu.Lock()
		stale := t.state.Terminal() && !t.needsReconcile && now.Sub(t.endedAt) >= terminalGrace
		t.mu.Unlock()
		if stale {
			delete(e.sessions, id)
		}
	}
}

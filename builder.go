package goGuard

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/policy"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	appender     auditlog.Appender
	logger       *slog.Logger
	clock        policy.Clock
	onWarning    func(WarningNotice)

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the session store client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the account lookup used by Login.
func (b *Builder) WithUserProvider(provider UserProvider) *Builder {
	b.userProvider = provider
	return b
}

// WithAuditAppender sets the durable destination for audit entries and
// security events. Without one, auditing is disabled.
func (b *Builder) WithAuditAppender(appender auditlog.Appender) *Builder {
	b.appender = appender
	return b
}

// WithLogger sets the logger for best-effort failures. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the engine clock. Defaults to policy.SystemClock.
func (b *Builder) WithClock(clock policy.Clock) *Builder {
	b.clock = clock
	return b
}

// WithWarningHandler registers fn to run whenever a session enters WARNING.
// fn runs on the monitor goroutine and must not block.
func (b *Builder) WithWarningHandler(fn func(WarningNotice)) *Builder {
	b.onWarning = fn
	return b
}

// Build validates the configuration and starts the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = policy.SystemClock{}
	}

	engine, err := newEngine(cfg, engineDeps{
		redis:     b.redis,
		users:     b.userProvider,
		appender:  b.appender,
		logger:    logger,
		clock:     clock,
		onWarning: b.onWarning,
	})
	if err != nil {
		return nil, err
	}

	b.built = true

	return engine, nil
}

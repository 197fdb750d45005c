// Command goguard-loadtest measures session hot paths under concurrency.
//
// In store mode it seeds session records and drives Get, Touch and Sweep
// directly against Redis. In engine mode it logs users in through a full
// Engine and drives Authenticate, TrackActivity and Status.
//
//	goguard-loadtest -mode store -sessions 100000 -ops 200000
//	goguard-loadtest -mode engine -sessions 2000 -ops 100000
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/fingerprint"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "load-test-password"

type options struct {
	mode        string
	sessions    int
	concurrency int
	ops         int
	prefix      string
	idle        time.Duration
}

type result struct {
	name     string
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
}

func main() {
	var (
		opts      options
		redisAddr string
	)
	flag.StringVar(&opts.mode, "mode", "store", "store or engine")
	flag.IntVar(&opts.sessions, "sessions", 100000, "sessions to seed (store) or log in (engine)")
	flag.IntVar(&opts.concurrency, "concurrency", 256, "concurrent workers")
	flag.IntVar(&opts.ops, "ops", 200000, "operations per phase")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address; REDIS_ADDR or miniredis when empty")
	flag.StringVar(&opts.prefix, "prefix", "gg-load", "redis key prefix")
	flag.DurationVar(&opts.idle, "idle-timeout", 45*time.Minute, "store mode: deadline pushed by each touch")
	flag.Parse()

	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		fail(2, "sessions, concurrency and ops must be > 0")
	}

	client, cleanup, err := dial(redisAddr)
	if err != nil {
		fail(1, "redis: %v", err)
	}
	defer cleanup()

	ctx := context.Background()
	var results []result
	switch opts.mode {
	case "store":
		results, err = runStore(ctx, client, opts)
	case "engine":
		results, err = runEngine(ctx, client, opts)
	default:
		fail(2, "unknown mode %q", opts.mode)
	}
	if err != nil {
		fail(1, "%s: %v", opts.mode, err)
	}
	report(results)
}

func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

func dial(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() { _ = client.Close(); mr.Close() }, nil
}

// runStore exercises session.Store without an engine in front of it.
func runStore(ctx context.Context, client redis.UniversalClient, opts options) ([]result, error) {
	store := session.NewStore(client, opts.prefix, time.Hour)

	type seeded struct {
		id   string
		mu   sync.Mutex
		last time.Time
	}
	records := make([]seeded, opts.sessions)
	now := time.Now()
	started := time.Now()
	for i := range records {
		records[i].id = fmt.Sprintf("sid-%d", i)
		records[i].last = now
		// Every tenth session starts already idle so the sweep phase has work.
		idle := opts.idle
		if i%10 == 0 {
			idle = time.Millisecond
		}
		rec := &session.Session{
			ID:                records[i].id,
			UserID:            fmt.Sprintf("u-%d", i%500),
			DeviceFingerprint: "fp1_loadtest",
			IPAddress:         "10.0.0.1",
			UserAgent:         "goguard-loadtest",
			CreatedAt:         now,
			LastActivityAt:    now,
			ExpiresAt:         now.Add(idle),
			Active:            true,
			RiskLevel:         risk.Medium,
		}
		if err := store.Create(ctx, rec); err != nil {
			return nil, err
		}
	}
	fmt.Printf("seeded %d sessions in %s\n", opts.sessions, time.Since(started).Round(time.Millisecond))

	get := phase("get", opts, func(r *mrand.Rand, _ int) error {
		_, err := store.Get(ctx, records[r.Intn(len(records))].id)
		return err
	})
	touch := phase("touch", opts, func(r *mrand.Rand, i int) error {
		rec := &records[r.Intn(len(records))]
		rec.mu.Lock()
		defer rec.mu.Unlock()
		at := rec.last.Add(time.Duration(i+1) * time.Microsecond)
		err := store.Touch(ctx, rec.id, at, at.Add(opts.idle), risk.Levels[r.Intn(len(risk.Levels))])
		if err == nil {
			rec.last = at
		}
		return err
	})

	// Sweep is single-threaded by nature; time whole batches.
	var sweepLat []time.Duration
	sweepStart := time.Now()
	for {
		t0 := time.Now()
		ids, err := store.Sweep(ctx, time.Now(), 500)
		if err != nil {
			return nil, err
		}
		sweepLat = append(sweepLat, time.Since(t0))
		if len(ids) < 500 {
			break
		}
	}
	return []result{get, touch, summarize("sweep/500", time.Since(sweepStart), sweepLat, 0)}, nil
}

type loadUsers map[string]goGuard.UserRecord

func (u loadUsers) GetByEmail(_ context.Context, email string) (goGuard.UserRecord, error) {
	rec, ok := u[strings.ToLower(email)]
	if !ok {
		return goGuard.UserRecord{}, goGuard.ErrUserNotFound
	}
	return rec, nil
}

// runEngine logs in through a full Engine and exercises the per-request path.
func runEngine(ctx context.Context, client redis.UniversalClient, opts options) ([]result, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	cheap := goGuard.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	cfg := goGuard.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password = cheap
	cfg.Session.MaxConcurrentSessions = 0
	cfg.Security.MaxLoginAttempts = 1 << 20
	cfg.Security.EnableIPThrottle = false
	cfg.Audit.Enabled = false
	cfg.Store.Prefix = opts.prefix

	hasher, err := password.NewHasher(password.Config{
		Memory: cheap.Memory, Time: cheap.Time, Parallelism: cheap.Parallelism,
		SaltLength: cheap.SaltLength, KeyLength: cheap.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}
	users := loadUsers{}
	for i := 0; i < 500; i++ {
		email := fmt.Sprintf("admin%d@load.test", i)
		users[email] = goGuard.UserRecord{UserID: fmt.Sprintf("u-%d", i), Email: email, Role: "admin", PasswordHash: hash}
	}

	engine, err := goGuard.New().WithConfig(cfg).WithRedis(client).WithUserProvider(users).Build()
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	type live struct {
		sessionID string
		access    string
		signals   fingerprint.Signals
	}
	sessions := make([]live, opts.sessions)
	started := time.Now()
	login := phase("login", options{ops: opts.sessions, concurrency: opts.concurrency}, func(_ *mrand.Rand, i int) error {
		signals := fingerprint.Signals{UserAgent: fmt.Sprintf("loadtest/%d", i), Locale: "en-GB", ScreenSize: "1920x1080"}
		res, err := engine.Login(ctx, fmt.Sprintf("admin%d@load.test", i%500), loadPassword, signals)
		if err != nil {
			return err
		}
		sessions[i] = live{sessionID: res.SessionID, access: res.AccessToken, signals: signals}
		return nil
	})
	fmt.Printf("logged in %d sessions in %s\n", opts.sessions, time.Since(started).Round(time.Millisecond))
	if login.failures > 0 {
		return nil, fmt.Errorf("%d logins failed", login.failures)
	}

	// Stricter tiers would shrink deadlines below the run time.
	actions := []string{"VIEW_DASHBOARD", "VIEW_LISTINGS", "SEARCH", "EDIT_LISTING", "EXPORT_DATA"}

	auth := phase("authenticate", opts, func(r *mrand.Rand, _ int) error {
		s := sessions[r.Intn(len(sessions))]
		_, err := engine.Authenticate(ctx, s.access, s.signals)
		return err
	})
	track := phase("track", opts, func(r *mrand.Rand, _ int) error {
		s := sessions[r.Intn(len(sessions))]
		return engine.TrackActivity(ctx, s.sessionID, actions[r.Intn(len(actions))])
	})
	status := phase("status", opts, func(r *mrand.Rand, _ int) error {
		_, err := engine.Status(sessions[r.Intn(len(sessions))].sessionID)
		return err
	})

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine counters: %v\n", snap.Counters)
	return []result{login, auth, track, status}, nil
}

// phase runs op opts.ops times across opts.concurrency workers.
func phase(name string, opts options, op func(r *mrand.Rand, i int) error) result {
	var (
		wg       sync.WaitGroup
		cursor   atomic.Int64
		failures atomic.Int64
		mu       sync.Mutex
		lat      = make([]time.Duration, 0, opts.ops)
	)
	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(seed))
			local := make([]time.Duration, 0, opts.ops/opts.concurrency+1)
			for {
				i := int(cursor.Add(1)) - 1
				if i >= opts.ops {
					break
				}
				t0 := time.Now()
				if err := op(r, i); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			lat = append(lat, local...)
			mu.Unlock()
		}(time.Now().UnixNano() + int64(w)*7919)
	}
	wg.Wait()
	return summarize(name, time.Since(start), lat, failures.Load())
}

func summarize(name string, total time.Duration, lat []time.Duration, failures int64) result {
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	return result{
		name:     name,
		total:    total,
		ops:      len(lat),
		failures: failures,
		p50:      percentile(lat, 50),
		p95:      percentile(lat, 95),
		p99:      percentile(lat, 99),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)*p/100]
}

func report(results []result) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PHASE\tOPS\tFAILED\tOPS/SEC\tP50\tP95\tP99\t")
	for _, r := range results {
		rate := 0.0
		if r.total > 0 {
			rate = float64(r.ops) / r.total.Seconds()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.0f\t%s\t%s\t%s\t\n", r.name, r.ops, r.failures, rate,
			r.p50.Round(time.Microsecond), r.p95.Round(time.Microsecond), r.p99.Round(time.Microsecond))
	}
	_ = tw.Flush()
}

package goGuard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/risk"
	"github.com/MrEthical07/goGuard/session"
)

func TestWorkHoursWarningAndExtend(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	if res.RiskLevel != risk.Medium {
		t.Fatalf("expected MEDIUM login, got %s", res.RiskLevel)
	}
	if want := start.Add(45 * time.Minute); !res.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", res.Deadline, want)
	}

	env.clock.Set(start.Add(39*time.Minute + 59*time.Second))
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State != StateAuthenticated || st.WarningVisible {
		t.Fatalf("unexpected warning at T+39:59: %+v", st)
	}
	if n := len(env.notices()); n != 0 {
		t.Fatalf("expected no warning callback, got %d", n)
	}

	env.clock.Set(start.Add(40 * time.Minute))
	env.engine.Tick(ctx)
	st := env.status(t, res.SessionID)
	if st.State != StateWarning || !st.WarningVisible {
		t.Fatalf("expected warning at T+40:00, got %+v", st)
	}
	if st.TimeRemaining != 5*time.Minute {
		t.Fatalf("time remaining = %v", st.TimeRemaining)
	}
	notices := env.notices()
	if len(notices) != 1 || notices[0].SessionID != res.SessionID || notices[0].Renotify {
		t.Fatalf("unexpected warning notices: %+v", notices)
	}

	// A second tick in the same generation does not warn again.
	env.engine.Tick(ctx)
	if n := len(env.notices()); n != 1 {
		t.Fatalf("expected one warning, got %d", n)
	}

	env.clock.Set(start.Add(44 * time.Minute))
	ext, err := env.engine.ExtendSession(ctx, res.SessionID, 30)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if want := start.Add(89 * time.Minute); !ext.Deadline.Equal(want) {
		t.Fatalf("extended deadline = %v, want %v", ext.Deadline, want)
	}
	if ext.AccessToken == "" || ext.RequestedMinutes != 30 {
		t.Fatalf("unexpected extend result: %+v", ext)
	}
	if st := env.status(t, res.SessionID); st.State != StateAuthenticated || st.WarningVisible {
		t.Fatalf("expected authenticated after extend, got %+v", st)
	}

	env.clock.Set(start.Add(88 * time.Minute))
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State.Terminal() {
		t.Fatalf("session logged out early: %+v", st)
	}

	env.flush(t)
	if got := env.audit.entriesFor(auditActionExtend); len(got) != 1 || got[0].Details["requested_minutes"] != 30 {
		t.Fatalf("unexpected extend audit: %+v", got)
	}
}

func TestNightCriticalActionExpires(t *testing.T) {
	start := at23()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	if err := env.engine.TrackActivity(ctx, res.SessionID, "DATABASE_BACKUP"); err != nil {
		t.Fatalf("track: %v", err)
	}
	st := env.status(t, res.SessionID)
	if st.RiskLevel != risk.Critical {
		t.Fatalf("risk = %s, want CRITICAL", st.RiskLevel)
	}
	if want := start.Add(90 * time.Second); !st.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", st.Deadline, want)
	}

	env.clock.Set(start.Add(91 * time.Second))
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("expected EXPIRED, got %s", st.State)
	}

	env.flush(t)
	expired := env.audit.entriesFor(auditActionSessionExpired)
	if len(expired) != 1 {
		t.Fatalf("expected one SESSION_EXPIRED entry, got %d", len(expired))
	}
	e := expired[0]
	if e.RiskLevel != risk.Critical || e.Success || e.ErrorMessage != "EXPIRED" || e.SessionID != res.SessionID {
		t.Fatalf("unexpected expiry entry: %+v", e)
	}

	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.Active || rec.LogoutReason != session.ReasonExpired {
		t.Fatalf("store record not deactivated: %+v", rec)
	}

	if err := env.engine.TrackActivity(ctx, res.SessionID, "VIEW_USERS"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after expiry, got %v", err)
	}
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)

	env.clock.Set(res.Deadline.Add(-time.Nanosecond))
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State.Terminal() {
		t.Fatalf("expired before deadline: %+v", st)
	}

	env.clock.Set(res.Deadline)
	if st := env.status(t, res.SessionID); st.State != StateExpired || st.TimeRemaining != 0 {
		t.Fatalf("status at deadline: %+v", st)
	}
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("expected EXPIRED at now == deadline, got %s", st.State)
	}
}

func TestActivityAtDeadlineDoesNotRevive(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(res.Deadline)

	if err := env.engine.TrackActivity(ctx, res.SessionID, "VIEW_USERS"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("expected EXPIRED, got %s", st.State)
	}
}

func TestActivityMovesDeadlineAndClearsWarning(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(41 * time.Minute))
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State != StateWarning {
		t.Fatalf("expected WARNING, got %s", st.State)
	}

	if err := env.engine.TrackActivity(ctx, res.SessionID, "VIEW_DASHBOARD"); err != nil {
		t.Fatalf("track: %v", err)
	}
	st := env.status(t, res.SessionID)
	if st.State != StateAuthenticated || st.WarningVisible {
		t.Fatalf("warning not cleared: %+v", st)
	}
	// LOW never loosens the MEDIUM the session already holds.
	if st.RiskLevel != risk.Medium {
		t.Fatalf("risk = %s, want MEDIUM", st.RiskLevel)
	}
	if want := start.Add(86 * time.Minute); !st.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", st.Deadline, want)
	}

	env.flushStore(t)
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !rec.LastActivityAt.Equal(start.Add(41*time.Minute)) || !rec.ExpiresAt.Equal(st.Deadline) {
		t.Fatalf("store not touched: %+v", rec)
	}
}

func TestUnknownActionCountsAsMedium(t *testing.T) {
	env := newTestEnv(t, at10(), nil)
	res := env.login(t, laptop)

	if err := env.engine.TrackActivity(context.Background(), res.SessionID, "SOMETHING_NEW"); err != nil {
		t.Fatalf("unknown action must not fail: %v", err)
	}
	if st := env.status(t, res.SessionID); st.RiskLevel != risk.Medium {
		t.Fatalf("risk = %s, want MEDIUM", st.RiskLevel)
	}

	level, err := env.engine.ClassifyAction("SOMETHING_NEW")
	if level != risk.Medium || !errors.Is(err, risk.ErrUnknownAction) {
		t.Fatalf("ClassifyAction = %s, %v", level, err)
	}
	var pe *PolicyError
	if !errors.As(err, &pe) || pe.Action != "SOMETHING_NEW" {
		t.Fatalf("expected *PolicyError, got %T", err)
	}
}

func TestParallelActivityRatchetsToStricter(t *testing.T) {
	for i := 0; i < 20; i++ {
		start := at10()
		env := newTestEnv(t, start, nil)
		res := env.login(t, laptop)
		env.clock.Set(start.Add(time.Minute))

		var wg sync.WaitGroup
		for _, action := range []string{"VIEW_USERS", "DELETE_USER"} {
			wg.Add(1)
			go func(action string) {
				defer wg.Done()
				if err := env.engine.TrackActivity(context.Background(), res.SessionID, action); err != nil {
					t.Errorf("track %s: %v", action, err)
				}
			}(action)
		}
		wg.Wait()

		st := env.status(t, res.SessionID)
		if st.RiskLevel != risk.High {
			t.Fatalf("iteration %d: risk = %s, want HIGH", i, st.RiskLevel)
		}
		want := start.Add(time.Minute + 22*time.Minute + 30*time.Second)
		if !st.Deadline.Equal(want) {
			t.Fatalf("iteration %d: deadline = %v, want %v", i, st.Deadline, want)
		}
		env.engine.Close()
	}
}

func TestDismissWarningAndRenotify(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, func(cfg *Config) {
		cfg.Monitor.RenotifyAfter = 2 * time.Minute
	})
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(40 * time.Minute))
	env.engine.Tick(ctx)

	if err := env.engine.DismissWarning(ctx, res.SessionID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	st := env.status(t, res.SessionID)
	if st.State != StateAuthenticated || st.WarningVisible {
		t.Fatalf("warning still visible after dismiss: %+v", st)
	}
	if !st.Deadline.Equal(res.Deadline) {
		t.Fatalf("dismiss moved the deadline: %v", st.Deadline)
	}

	env.clock.Set(start.Add(41 * time.Minute))
	env.engine.Tick(ctx)
	if n := len(env.notices()); n != 1 {
		t.Fatalf("renotified too early: %d notices", n)
	}

	env.clock.Set(start.Add(42 * time.Minute))
	env.engine.Tick(ctx)
	notices := env.notices()
	if len(notices) != 2 || !notices[1].Renotify {
		t.Fatalf("expected a renotify, got %+v", notices)
	}
	if st := env.status(t, res.SessionID); st.State != StateWarning {
		t.Fatalf("expected WARNING after renotify, got %s", st.State)
	}

	env.clock.Set(res.Deadline)
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("dismissal must not prevent expiry, got %s", st.State)
	}
}

func TestDismissCappedAtDeadline(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(43 * time.Minute))
	env.engine.Tick(ctx)
	if err := env.engine.DismissWarning(ctx, res.SessionID); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	env.flush(t)
	got := env.audit.entriesFor(auditActionWarningDismiss)
	if len(got) != 1 {
		t.Fatalf("expected one dismiss entry, got %d", len(got))
	}
	if got[0].Details["dismissed_until"] != res.Deadline.UTC().Format(time.RFC3339) {
		t.Fatalf("dismissal not capped at deadline: %v", got[0].Details)
	}
}

func TestExtendFailureForcesExpired(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, func(cfg *Config) {
		cfg.JWT.RefreshTTL = cfg.JWT.AccessTTL
	})
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(31 * time.Minute))

	_, err := env.engine.ExtendSession(ctx, res.SessionID, 15)
	if !errors.Is(err, ErrReauthenticationRequired) || !errors.Is(err, jwt.ErrExpired) {
		t.Fatalf("expected expired refresh, got %v", err)
	}
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("expected EXPIRED, got %s", st.State)
	}

	env.flushStore(t)
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.Active || rec.LogoutReason != session.ReasonRefreshFailed {
		t.Fatalf("store record: %+v", rec)
	}
}

func TestExtendThrottledKeepsSession(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, func(cfg *Config) {
		cfg.Security.RefreshInterval = time.Minute
		cfg.Security.RefreshBurst = 1
	})
	ctx := context.Background()

	res := env.login(t, laptop)
	if _, err := env.engine.ExtendSession(ctx, res.SessionID, 5); err != nil {
		t.Fatalf("first extend: %v", err)
	}
	if _, err := env.engine.ExtendSession(ctx, res.SessionID, 5); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("expected ErrRefreshRateLimited, got %v", err)
	}
	if st := env.status(t, res.SessionID); st.State.Terminal() {
		t.Fatalf("throttled extend ended the session: %s", st.State)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, at10(), nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	if err := env.engine.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := env.engine.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if st := env.status(t, res.SessionID); st.State != StateLoggedOut {
		t.Fatalf("expected LOGGED_OUT, got %s", st.State)
	}
	if err := env.engine.Logout(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, err := env.engine.Refresh(ctx, res.RefreshToken, laptop); !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("refresh after logout: %v", err)
	}

	env.flush(t)
	if got := env.audit.entriesFor(auditActionLogout); len(got) != 1 {
		t.Fatalf("expected one LOGOUT entry, got %d", len(got))
	}
}

func TestStatusUnknownSessionIsAnonymous(t *testing.T) {
	env := newTestEnv(t, at10(), nil)
	st, err := env.engine.Status("nope")
	if !errors.Is(err, ErrSessionNotFound) || st.State != StateAnonymous {
		t.Fatalf("Status = %+v, %v", st, err)
	}
	if err := env.engine.TrackActivity(context.Background(), "nope", "VIEW_USERS"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("TrackActivity = %v", err)
	}
}

func TestStoreFailureThenReconcile(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(5 * time.Minute))

	env.mr.SetError("LOADING redis is loading")
	if err := env.engine.TrackActivity(ctx, res.SessionID, "EDIT_LISTING"); err != nil {
		t.Fatalf("store failure must not surface: %v", err)
	}
	env.flushStore(t)
	env.mr.SetError("")

	if !env.engine.NeedsReconciliation(res.SessionID) {
		t.Fatal("expected session flagged for reconciliation")
	}
	if st := env.status(t, res.SessionID); st.State != StateAuthenticated {
		t.Fatalf("in-memory session must continue, got %s", st.State)
	}

	env.flush(t)
	events := env.audit.eventsOf(auditlog.EventStoreWriteFailed)
	if len(events) != 1 || events[0].Severity != risk.Medium || events[0].EventData["op"] != "touch" {
		t.Fatalf("unexpected store failure events: %+v", events)
	}

	n, err := env.engine.Reconcile(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Reconcile = %d, %v", n, err)
	}
	if env.engine.NeedsReconciliation(res.SessionID) {
		t.Fatal("flag not cleared")
	}
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !rec.LastActivityAt.Equal(start.Add(5 * time.Minute)) {
		t.Fatalf("store not reconciled: %+v", rec)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricReconciled]; got != 1 {
		t.Fatalf("reconciled metric = %d", got)
	}
}

// flagAfterOutage records activity for sessionID while Redis fails so the
// session ends up flagged for Reconcile.
func flagAfterOutage(t *testing.T, env *testEnv, sessionID string) {
	t.Helper()
	env.mr.SetError("LOADING redis is loading")
	if err := env.engine.TrackActivity(context.Background(), sessionID, "EDIT_LISTING"); err != nil {
		t.Fatalf("track: %v", err)
	}
	env.flushStore(t)
	env.mr.SetError("")
	if !env.engine.NeedsReconciliation(sessionID) {
		t.Fatal("expected session flagged for reconciliation")
	}
}

func TestReconcileKeepsStoreRevocation(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(5 * time.Minute))
	flagAfterOutage(t, env, res.SessionID)

	// Another process logs the session out while it is flagged.
	if _, err := env.engine.Store().Deactivate(ctx, res.SessionID, session.ReasonLoggedOut, start.Add(6*time.Minute)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	n, err := env.engine.Reconcile(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Reconcile = %d, %v", n, err)
	}
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.Active || rec.LogoutReason != session.ReasonLoggedOut {
		t.Fatalf("reconcile undid the revocation: %+v", rec)
	}
	if st := env.status(t, res.SessionID); st.State != StateLoggedOut {
		t.Fatalf("revocation not adopted, state %s", st.State)
	}
	if env.engine.NeedsReconciliation(res.SessionID) {
		t.Fatal("flag not cleared")
	}
	if _, err := env.engine.Authenticate(ctx, res.AccessToken, laptop); !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("revoked session still authenticates: %v", err)
	}
}

func TestReconcileRestoresMissingRecord(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(5 * time.Minute))
	flagAfterOutage(t, env, res.SessionID)
	env.mr.FlushAll()

	n, err := env.engine.Reconcile(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Reconcile = %d, %v", n, err)
	}
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !rec.Active || !rec.LastActivityAt.Equal(start.Add(5*time.Minute)) || rec.UserID != "u-1" {
		t.Fatalf("record not restored: %+v", rec)
	}
}

func TestStoreOutageDoesNotBlockRequests(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, func(cfg *Config) {
		cfg.Security.StoreRetryBackoff = 200 * time.Millisecond
	})
	ctx := context.Background()

	res := env.login(t, laptop)
	other := env.login(t, phone)
	env.clock.Set(start.Add(time.Minute))

	env.mr.SetError("LOADING redis is loading")
	began := time.Now()
	if err := env.engine.TrackActivity(ctx, res.SessionID, "EDIT_LISTING"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, other.AccessToken, laptop); !errors.Is(err, jwt.ErrDeviceMismatch) {
		t.Fatalf("expected device mismatch, got %v", err)
	}
	if took := time.Since(began); took >= 100*time.Millisecond {
		t.Fatalf("request path waited on the store: %v", took)
	}

	env.flushStore(t)
	env.mr.SetError("")
	if !env.engine.NeedsReconciliation(res.SessionID) || !env.engine.NeedsReconciliation(other.SessionID) {
		t.Fatal("failed background writes were not flagged")
	}

	n, err := env.engine.Reconcile(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Reconcile = %d, %v", n, err)
	}
	rec, err := env.engine.Store().Get(ctx, other.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.Active || rec.LogoutReason != session.ReasonDeviceMismatch {
		t.Fatalf("revocation not persisted: %+v", rec)
	}
	rec, err = env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !rec.LastActivityAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("activity not persisted: %+v", rec)
	}
}

func TestRefreshDoesNotExtendIdleDeadline(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(start.Add(30 * time.Minute))

	access, err := env.engine.Refresh(ctx, res.RefreshToken, laptop)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, access, laptop); err != nil {
		t.Fatalf("authenticate refreshed token: %v", err)
	}
	if st := env.status(t, res.SessionID); !st.Deadline.Equal(res.Deadline) {
		t.Fatalf("refresh moved the deadline to %v, want %v", st.Deadline, res.Deadline)
	}
	env.flushStore(t)
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !rec.LastActivityAt.Equal(start) {
		t.Fatalf("refresh counted as activity: %+v", rec)
	}

	env.clock.Set(res.Deadline)
	env.engine.Tick(ctx)
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("idle session kept alive by refresh, state %s", st.State)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken, laptop); !errors.Is(err, ErrReauthenticationRequired) {
		t.Fatalf("refresh after idle expiry: %v", err)
	}
}

func TestSweepExpiresTrackedSessions(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	res := env.login(t, laptop)
	env.clock.Set(res.Deadline.Add(time.Second))

	n, err := env.engine.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	if st := env.status(t, res.SessionID); st.State != StateExpired {
		t.Fatalf("expected EXPIRED, got %s", st.State)
	}
	rec, err := env.engine.Store().Get(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if rec.Active || rec.LogoutReason != session.ReasonExpired {
		t.Fatalf("store record: %+v", rec)
	}
}

func TestActiveSessionsListsLiveState(t *testing.T) {
	start := at10()
	env := newTestEnv(t, start, nil)
	ctx := context.Background()

	first := env.login(t, laptop)
	env.clock.Set(start.Add(time.Minute))
	second := env.login(t, phone)

	list, err := env.engine.ActiveSessions(ctx, "u-1")
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != second.SessionID || list[1].ID != first.SessionID {
		t.Fatalf("unexpected order: %s, %s", list[0].ID, list[1].ID)
	}
	for _, s := range list {
		if !s.Tracked || s.State != StateAuthenticated {
			t.Fatalf("unexpected row: %+v", s)
		}
	}
}

package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/risk"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour behind a SQLStore.
type Dialect string

const (
	// DialectSQLite uses modernc.org/sqlite. It is the default backend.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres uses pgx through database/sql.
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, name)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// SQLStore is the durable audit trail and security event log.
//
// Rows are append-only. The only update is ResolveSecurityEvent, which sets the
// resolution columns once.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to dsn with the driver for dialect and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	if dialect == DialectSQLite {
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("set pragma: %w", err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit store: %w", err)
	}
	return New(db, dialect), nil
}

// New wraps an open database. The schema must already be migrated.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// DB returns the underlying handle, for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL flavour.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

const insertEntrySQL = `INSERT INTO audit_log (id, user_id, user_email, action, resource_type, resource_id, details, ip_address, user_agent, device_fingerprint, session_id, risk_level, success, error_message, created_at, day) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Append writes e. An empty ID is replaced with a fresh UUID and a zero timestamp with now.
func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: missing action", ErrInvalidRecord)
	}
	e.normalize(s.now())
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	details, err := encodeMap(e.Details)
	if err != nil {
		return err
	}
	var resourceID sql.NullString
	if e.ResourceID != "" {
		resourceID = sql.NullString{String: e.ResourceID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(insertEntrySQL),
		e.ID, e.UserID, e.UserEmail, e.Action, e.ResourceType, resourceID, details,
		e.IP, e.UserAgent, e.DeviceFingerprint, e.SessionID,
		e.RiskLevel.String(), e.Success, e.ErrorMessage,
		e.Timestamp.UnixMilli(), dayOf(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

const insertEventSQL = `INSERT INTO security_events (id, user_id, event_type, severity, ip_address, user_agent, device_fingerprint, event_data, resolved, resolved_by, resolution_note, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AppendSecurityEvent writes e unresolved, regardless of its resolution fields.
func (s *SQLStore) AppendSecurityEvent(ctx context.Context, e SecurityEvent) error {
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalidRecord)
	}
	e.normalize(s.now())
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	data, err := encodeMap(e.EventData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(insertEventSQL),
		e.ID, e.UserID, e.EventType, e.Severity.String(),
		e.IP, e.UserAgent, e.DeviceFingerprint, data,
		false, "", "", e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	return nil
}

const selectEntryColumns = `id, user_id, user_email, action, resource_type, resource_id, details, ip_address, user_agent, device_fingerprint, session_id, risk_level, success, error_message, created_at`

// Query returns entries matching f, newest first with ties broken by id descending.
func (s *SQLStore) Query(ctx context.Context, f Filter, p Page) (Result, error) {
	p = p.normalized()
	where, args := entryWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM audit_log"+where), args...).Scan(&total); err != nil {
		return Result{}, fmt.Errorf("count audit entries: %w", err)
	}

	q := "SELECT " + selectEntryColumns + " FROM audit_log" + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, s.rebind(q), append(args, p.Limit, p.Offset)...)
	if err != nil {
		return Result{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := Result{Entries: []Entry{}, Total: total}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Result{}, err
		}
		out.Entries = append(out.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("query audit entries: %w", err)
	}
	return out, nil
}

func entryWhere(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		add("action = ?", strings.ToUpper(strings.TrimSpace(f.Action)))
	}
	if f.ResourceType != "" {
		add("resource_type = ?", f.ResourceType)
	}
	if f.RiskLevel.Valid() {
		add("risk_level = ?", f.RiskLevel.String())
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		add("created_at < ?", f.To.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e          Entry
		resourceID sql.NullString
		details    []byte
		level      string
		created    int64
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.UserEmail, &e.Action, &e.ResourceType, &resourceID, &details,
		&e.IP, &e.UserAgent, &e.DeviceFingerprint, &e.SessionID, &level, &e.Success, &e.ErrorMessage, &created); err != nil {
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.ResourceID = resourceID.String
	e.Timestamp = time.UnixMilli(created).UTC()
	l, err := risk.ParseLevel(level)
	if err != nil {
		l = risk.Medium
	}
	e.RiskLevel = l
	if e.Details, err = decodeMap(details); err != nil {
		return Entry{}, err
	}
	return e, nil
}

const selectEventColumns = `id, user_id, event_type, severity, ip_address, user_agent, device_fingerprint, event_data, resolved, resolved_by, resolved_at, resolution_note, created_at`

// QuerySecurityEvents returns events matching f, newest first.
func (s *SQLStore) QuerySecurityEvents(ctx context.Context, f SecurityFilter, p Page) (SecurityResult, error) {
	p = p.normalized()
	where, args := eventWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM security_events"+where), args...).Scan(&total); err != nil {
		return SecurityResult{}, fmt.Errorf("count security events: %w", err)
	}

	q := "SELECT " + selectEventColumns + " FROM security_events" + where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, s.rebind(q), append(args, p.Limit, p.Offset)...)
	if err != nil {
		return SecurityResult{}, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	out := SecurityResult{Events: []SecurityEvent{}, Total: total}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return SecurityResult{}, err
		}
		out.Events = append(out.Events, e)
	}
	if err := rows.Err(); err != nil {
		return SecurityResult{}, fmt.Errorf("query security events: %w", err)
	}
	return out, nil
}

func eventWhere(f SecurityFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.EventType != "" {
		add("event_type = ?", strings.ToUpper(strings.TrimSpace(f.EventType)))
	}
	if f.Severity.Valid() {
		add("severity = ?", f.Severity.String())
	}
	if f.Resolved != nil {
		add("resolved = ?", *f.Resolved)
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		add("created_at < ?", f.To.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEvent(row scanner) (SecurityEvent, error) {
	var (
		e          SecurityEvent
		data       []byte
		severity   string
		resolvedAt sql.NullInt64
		created    int64
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.EventType, &severity, &e.IP, &e.UserAgent, &e.DeviceFingerprint, &data,
		&e.Resolved, &e.ResolvedBy, &resolvedAt, &e.ResolutionNote, &created); err != nil {
		return SecurityEvent{}, fmt.Errorf("scan security event: %w", err)
	}
	e.Timestamp = time.UnixMilli(created).UTC()
	if resolvedAt.Valid {
		at := time.UnixMilli(resolvedAt.Int64).UTC()
		e.ResolvedAt = &at
	}
	l, err := risk.ParseLevel(severity)
	if err != nil {
		l = risk.Medium
	}
	e.Severity = l
	if e.EventData, err = decodeMap(data); err != nil {
		return SecurityEvent{}, err
	}
	return e, nil
}

// ResolveSecurityEvent marks event id resolved by `by` with note. It succeeds once;
// later calls return ErrAlreadyResolved.
func (s *SQLStore) ResolveSecurityEvent(ctx context.Context, id, by, note string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE security_events SET resolved = ?, resolved_by = ?, resolved_at = ?, resolution_note = ? WHERE id = ? AND resolved = ?"),
		true, by, s.now().UnixMilli(), note, id, false,
	)
	if err != nil {
		return fmt.Errorf("resolve security event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve security event: %w", err)
	}
	if n == 1 {
		return nil
	}

	var resolved bool
	err = s.db.QueryRowContext(ctx, s.rebind("SELECT resolved FROM security_events WHERE id = ?"), id).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolve security event: %w", err)
	}
	return ErrAlreadyResolved
}

// Summarize counts entries per UTC day and risk level over the `days` days
// ending with the day of now. Days without entries are included with zero counts.
// days defaults to 7 and may not exceed MaxSummaryDays.
func (s *SQLStore) Summarize(ctx context.Context, days int, now time.Time) (Summary, error) {
	if days <= 0 {
		days = 7
	}
	if days > MaxSummaryDays {
		return Summary{}, fmt.Errorf("%w: %d days exceeds %d", ErrInvalidRange, days, MaxSummaryDays)
	}
	end := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT day, risk_level, COUNT(*) FROM audit_log WHERE created_at >= ? AND created_at < ? GROUP BY day, risk_level"),
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize audit log: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[risk.Level]int, days)
	for rows.Next() {
		var (
			day   string
			level string
			n     int
		)
		if err := rows.Scan(&day, &level, &n); err != nil {
			return Summary{}, fmt.Errorf("summarize audit log: %w", err)
		}
		l, err := risk.ParseLevel(level)
		if err != nil {
			continue
		}
		if counts[day] == nil {
			counts[day] = make(map[risk.Level]int, len(risk.Levels))
		}
		counts[day][l] += n
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("summarize audit log: %w", err)
	}

	return buildSummary(start, days, counts), nil
}

func buildSummary(start time.Time, days int, counts map[string]map[risk.Level]int) Summary {
	out := Summary{
		Days:   make([]DaySummary, 0, days),
		Totals: make(map[risk.Level]int, len(risk.Levels)),
	}
	for _, l := range risk.Levels {
		out.Totals[l] = 0
	}
	for i := 0; i < days; i++ {
		day := dayOf(start.Add(time.Duration(i) * 24 * time.Hour))
		ds := DaySummary{Day: day, Counts: make(map[risk.Level]int, len(risk.Levels))}
		for _, l := range risk.Levels {
			n := counts[day][l]
			ds.Counts[l] = n
			ds.Total += n
			out.Totals[l] += n
		}
		out.Total += ds.Total
		out.Days = append(out.Days, ds)
	}
	return out
}

func encodeMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode audit details: %w", err)
	}
	return string(data), nil
}

func decodeMap(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode audit details: %w", err)
	}
	return m, nil
}

package audit

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/auditlog"
	"github.com/MrEthical07/goGuard/risk"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

type item struct {
	entry   *auditlog.Entry
	event   *auditlog.SecurityEvent
	barrier chan struct{}
}

// Dispatcher asynchronously forwards audit entries and security events to an appender.
//
// A failed append or a dropped record is reported as an AUDIT_WRITE_FAILED
// security event from the worker goroutine. If that write fails too, the
// failure is logged.
type Dispatcher struct {
	cfg       Config
	appender  auditlog.Appender
	logger    *slog.Logger
	ch        chan item
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	pending   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg.Enabled is false;
// every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, appender auditlog.Appender, logger *slog.Logger) *Dispatcher {
	if !cfg.Enabled || appender == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:      cfg,
		appender: appender,
		logger:   logger,
		ch:       make(chan item, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case it := <-d.ch:
			d.deliver(it)
		case <-d.done:
			for {
				select {
				case it := <-d.ch:
					d.deliver(it)
				default:
					d.reportDrops()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(it item) {
	if it.barrier != nil {
		d.reportDrops()
		close(it.barrier)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	switch {
	case it.entry != nil:
		if err := d.appender.Append(ctx, *it.entry); err != nil {
			d.reportFailure(ctx, "entry", it.entry.Action, err)
		}
	case it.event != nil:
		if err := d.appender.AppendSecurityEvent(ctx, *it.event); err != nil {
			if it.event.EventType == auditlog.EventAuditWriteFailed {
				d.failed.Add(1)
				d.logger.Warn("audit write failed", "kind", "security_event", "event_type", it.event.EventType, "err", err)
				return
			}
			d.reportFailure(ctx, "security_event", it.event.EventType, err)
		}
	}
	d.reportDrops()
}

func (d *Dispatcher) reportFailure(ctx context.Context, kind, name string, cause error) {
	d.failed.Add(1)
	ev := auditlog.SecurityEvent{
		EventType: auditlog.EventAuditWriteFailed,
		Severity:  risk.Medium,
		EventData: map[string]any{
			"kind":  kind,
			"name":  name,
			"error": cause.Error(),
		},
	}
	if err := d.appender.AppendSecurityEvent(ctx, ev); err != nil {
		d.logger.Warn("audit write failed", "kind", kind, "name", name, "err", cause, "report_err", err)
	}
}

func (d *Dispatcher) reportDrops() {
	n := d.pending.Swap(0)
	if n == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	ev := auditlog.SecurityEvent{
		EventType: auditlog.EventAuditWriteFailed,
		Severity:  risk.Medium,
		EventData: map[string]any{
			"kind":    "dropped",
			"dropped": strconv.FormatUint(n, 10),
		},
	}
	if err := d.appender.AppendSecurityEvent(ctx, ev); err != nil {
		d.failed.Add(1)
		d.logger.Warn("audit records dropped", "dropped", n, "report_err", err)
	}
}

// Emit queues an audit entry.
func (d *Dispatcher) Emit(ctx context.Context, e auditlog.Entry) {
	d.enqueue(ctx, item{entry: &e})
}

// EmitSecurity queues a security event.
func (d *Dispatcher) EmitSecurity(ctx context.Context, e auditlog.SecurityEvent) {
	d.enqueue(ctx, item{event: &e})
}

func (d *Dispatcher) enqueue(ctx context.Context, it item) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- it:
		case <-d.done:
		default:
			d.dropped.Add(1)
			d.pending.Add(1)
		}
		return
	}

	select {
	case d.ch <- it:
	case <-ctx.Done():
		d.dropped.Add(1)
		d.pending.Add(1)
	case <-d.done:
	}
}

// Flush blocks until every record accepted before the call has been delivered,
// or ctx is done.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	barrier := make(chan struct{})
	select {
	case d.ch <- item{barrier: barrier}:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		d.wg.Wait()
		return nil
	}
}

// Close stops accepting records, drains the buffer and waits for the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of records dropped because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of records the appender rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

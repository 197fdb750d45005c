package internaldefs

import (
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
)

// Namespace prefixes every exported metric name.
const Namespace = "goguard"

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

var counterHelp = map[goGuard.MetricID]string{
	goGuard.MetricLoginSuccess:       "Logins that produced a session.",
	goGuard.MetricLoginFailure:       "Logins rejected for credentials or provider errors.",
	goGuard.MetricLoginRateLimited:   "Logins refused by the login throttle.",
	goGuard.MetricRefreshSuccess:     "Access tokens minted from a refresh token.",
	goGuard.MetricRefreshFailure:     "Rejected refresh attempts.",
	goGuard.MetricRefreshRateLimited: "Refreshes refused by the per-session throttle.",
	goGuard.MetricSessionCreated:     "Sessions written at login.",
	goGuard.MetricSessionExpired:     "Sessions expired by the idle timeout.",
	goGuard.MetricLogout:             "Explicit logouts.",
	goGuard.MetricSessionEvicted:     "Sessions evicted by the concurrent-session limit.",
	goGuard.MetricDeviceMismatch:     "Tokens presented from a different device.",
	goGuard.MetricWarningShown:       "Sessions that entered the warning state.",
	goGuard.MetricWarningDismissed:   "Dismissed expiry warnings.",
	goGuard.MetricSessionExtended:    "Successful session extensions.",
	goGuard.MetricStoreWriteFailure:  "Session store writes that failed after retry.",
	goGuard.MetricReconciled:         "Sessions re-pushed to the store by reconciliation.",
	goGuard.MetricSweepDeactivated:   "Stale sessions deactivated by the sweeper.",
}

// CounterDefs lists every engine counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the engine latency histograms.
var HistogramDefs = []HistogramDef{
	{
		ID:   goGuard.MetricAuthenticateLatency,
		Name: Namespace + "_" + goGuard.MetricAuthenticateLatency.String() + "_seconds",
		Help: "Authenticate latency.",
	},
}

// AuditDroppedName is the counter for audit records lost to backpressure.
const AuditDroppedName = Namespace + "_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit records dropped because the dispatcher queue was full."

// HistogramBounds are the bucket upper bounds in seconds, +Inf last.
var HistogramBounds = buildBounds()

// HistogramBoundLabels are HistogramBounds formatted as Prometheus "le" labels.
var HistogramBoundLabels = buildBoundLabels()

func buildCounterDefs() []CounterDef {
	ids := goGuard.CounterIDs()
	out := make([]CounterDef, 0, len(ids))
	for _, id := range ids {
		help, ok := counterHelp[id]
		if !ok {
			help = "Engine counter " + id.String() + "."
		}
		out = append(out, CounterDef{
			ID:   id,
			Name: Namespace + "_" + id.String() + "_total",
			Help: help,
		})
	}
	return out
}

func buildBounds() []float64 {
	out := make([]float64, 0, len(goGuard.HistogramBounds))
	for _, b := range goGuard.HistogramBounds {
		out = append(out, b.Seconds())
	}
	return out
}

func buildBoundLabels() []string {
	out := make([]string, 0, len(goGuard.HistogramBounds)+1)
	for _, b := range buildBounds() {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// BucketCount is the number of raw buckets, including +Inf.
const BucketCount = len(goGuard.HistogramBounds) + 1

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}

package auditlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/risk"
	"github.com/stretchr/testify/require"
)

type recordingAppender struct {
	entries []Entry
	events  []SecurityEvent
	err     error
}

func (r *recordingAppender) Append(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingAppender) AppendSecurityEvent(_ context.Context, e SecurityEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func TestJSONLinesWriterWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLinesWriter(&buf)
	ctx := context.Background()

	require.NoError(t, w.Append(ctx, Entry{ID: "e1", Action: "LOGIN", RiskLevel: risk.Medium, Success: true, Timestamp: time.Unix(0, 0)}))
	require.NoError(t, w.AppendSecurityEvent(ctx, SecurityEvent{ID: "s1", EventType: EventDeviceMismatch, Severity: risk.High}))

	sc := bufio.NewScanner(&buf)
	var lines []map[string]any
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "audit", lines[0]["kind"])
	require.Equal(t, "MEDIUM", lines[0]["entry"].(map[string]any)["risk_level"])
	require.Equal(t, "security", lines[1]["kind"])
	require.Equal(t, "HIGH", lines[1]["security_event"].(map[string]any)["severity"])
}

func TestTeeFansOutSameRecord(t *testing.T) {
	a, b := &recordingAppender{}, &recordingAppender{}
	tee := Tee{a, nil, b}

	require.NoError(t, tee.Append(context.Background(), Entry{Action: "LOGIN"}))
	require.Len(t, a.entries, 1)
	require.Len(t, b.entries, 1)
	require.NotEmpty(t, a.entries[0].ID)
	require.Equal(t, a.entries[0].ID, b.entries[0].ID)
	require.Equal(t, risk.Medium, b.entries[0].RiskLevel)
}

func TestTeeJoinsFailuresAndKeepsGoing(t *testing.T) {
	errA := errors.New("disk full")
	a, b := &recordingAppender{err: errA}, &recordingAppender{}
	tee := Tee{a, b}

	err := tee.AppendSecurityEvent(context.Background(), SecurityEvent{EventType: EventAuditWriteFailed})
	require.ErrorIs(t, err, errA)
	require.Len(t, b.events, 1)
}

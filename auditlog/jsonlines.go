package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JSONLinesWriter mirrors audit records to w as one JSON object per line.
// It is write-only and suited to log shipping.
type JSONLinesWriter struct {
	writer io.Writer
	mu     sync.Mutex
	now    func() time.Time
}

// NewJSONLinesWriter returns a writer over w.
func NewJSONLinesWriter(w io.Writer) *JSONLinesWriter {
	return &JSONLinesWriter{writer: w, now: time.Now}
}

type jsonLine struct {
	Kind     string         `json:"kind"`
	Entry    *Entry         `json:"entry,omitempty"`
	Security *SecurityEvent `json:"security_event,omitempty"`
}

// Append writes e as an "audit" line.
func (w *JSONLinesWriter) Append(_ context.Context, e Entry) error {
	e.normalize(w.now())
	return w.write(jsonLine{Kind: "audit", Entry: &e})
}

// AppendSecurityEvent writes e as a "security" line.
func (w *JSONLinesWriter) AppendSecurityEvent(_ context.Context, e SecurityEvent) error {
	e.normalize(w.now())
	return w.write(jsonLine{Kind: "security", Security: &e})
}

func (w *JSONLinesWriter) write(line jsonLine) error {
	if w == nil || w.writer == nil {
		return nil
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.writer.Write(data)
	return err
}

// Tee fans every record out to all appenders. Each appender is attempted;
// failures are joined. IDs and timestamps are fixed before fan-out so every
// destination stores the same record.
type Tee []Appender

// Append implements Appender.
func (t Tee) Append(ctx context.Context, e Entry) error {
	e.normalize(time.Now())
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var errs []error
	for _, a := range t {
		if a == nil {
			continue
		}
		if err := a.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AppendSecurityEvent implements Appender.
func (t Tee) AppendSecurityEvent(ctx context.Context, e SecurityEvent) error {
	e.normalize(time.Now())
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var errs []error
	for _, a := range t {
		if a == nil {
			continue
		}
		if err := a.AppendSecurityEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

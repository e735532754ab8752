// Package errorlog keeps the application error records that feed stability
// scoring. Records live in memory and are written through to a storage.KV.
package errorlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anmar534/desktop-management-system/internal/errorreporting"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/metrics"
	"github.com/anmar534/desktop-management-system/internal/storage"
)

// KeyPrefix namespaces error records in the KV.
const KeyPrefix = "errors/"

// ErrNotFound is returned by Resolve for an unknown record id.
var ErrNotFound = errors.New("errorlog: record not found")

// Severity of an error record.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity accepts the four severities case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("errorlog: unknown severity %q", s)
}

// forwarded reports whether records of this severity go to Sentry.
func (s Severity) forwarded() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Record is one reported error.
type Record struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Component  string     `json:"component,omitempty"`
	Severity   Severity   `json:"severity"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Input describes a new error report. An empty severity means medium.
type Input struct {
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Component string   `json:"component,omitempty"`
	Severity  Severity `json:"severity"`
}

// Log is the error log. The zero value is not usable; call New.
type Log struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
	// version changes whenever the in-memory records do.
	version uint64

	kv  storage.KV
	now func() time.Time
	log *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a log writing through to kv. A nil kv keeps records in memory only.
func New(kv storage.KV, opts ...Option) *Log {
	l := &Log{
		index: make(map[string]int),
		kv:    kv,
		now:   time.Now,
		log:   logger.WithComponent("errorlog"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Report appends a new unresolved record. Persistence failures are logged and
// never returned.
func (l *Log) Report(ctx context.Context, in Input) Record {
	sev := in.Severity
	if sev == "" {
		sev = SeverityMedium
	}
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Type:      in.Type,
		Message:   in.Message,
		Component: in.Component,
		Severity:  sev,
	}

	l.mu.Lock()
	l.index[rec.ID] = len(l.records)
	l.records = append(l.records, rec)
	l.version++
	pending := l.pendingLocked()
	l.mu.Unlock()

	metrics.ErrorsReported.WithLabelValues(string(sev)).Inc()
	metrics.ErrorsPending.Set(float64(pending))

	if sev.forwarded() {
		errorreporting.CaptureReport(rec.Type, rec.Message, rec.Component, string(sev))
	}
	l.log.DebugContext(ctx, "Error reported", "id", rec.ID, "type", rec.Type, "severity", sev)

	l.persist(ctx, rec)
	return rec
}

// Resolve marks a record resolved. Resolving twice is a no-op.
func (l *Log) Resolve(ctx context.Context, id string) error {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if l.records[i].Resolved {
		l.mu.Unlock()
		return nil
	}
	at := l.now()
	l.records[i].Resolved = true
	l.records[i].ResolvedAt = &at
	l.version++
	rec := l.records[i]
	pending := l.pendingLocked()
	l.mu.Unlock()

	metrics.ErrorsPending.Set(float64(pending))
	l.persist(ctx, rec)
	return nil
}

// Records returns every record ordered by timestamp. The persisted view is
// merged with the in-memory one, memory winning. When storage cannot be read
// the in-memory view is returned with degraded set.
func (l *Log) Records(ctx context.Context) (records []Record, degraded bool) {
	local := l.Snapshot()
	if l.kv == nil {
		return local, false
	}

	persisted, err := l.readAll(ctx)
	if err != nil {
		l.log.WarnContext(ctx, "Error log storage unavailable, using in-memory view", "error", err)
		return local, true
	}

	merged := make(map[string]Record, len(persisted)+len(local))
	for _, r := range persisted {
		merged[r.ID] = r
	}
	for _, r := range local {
		merged[r.ID] = r
	}
	out := make([]Record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sortRecords(out)
	return out, false
}

// Snapshot returns a copy of the in-memory records in report order.
func (l *Log) Snapshot() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Pending returns the number of unresolved in-memory records.
func (l *Log) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pendingLocked()
}

// Version returns a counter that changes on every report, resolve, load and
// clear. Readers use it to tell whether a copy of the records is current.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Len returns the number of in-memory records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Load replaces the in-memory records with those persisted in storage.
func (l *Log) Load(ctx context.Context) error {
	if l.kv == nil {
		return nil
	}
	persisted, err := l.readAll(ctx)
	if err != nil {
		return fmt.Errorf("load error log: %w", err)
	}
	sortRecords(persisted)

	l.mu.Lock()
	l.records = persisted
	l.index = make(map[string]int, len(persisted))
	for i, r := range persisted {
		l.index[r.ID] = i
	}
	l.version++
	pending := l.pendingLocked()
	l.mu.Unlock()

	metrics.ErrorsPending.Set(float64(pending))
	l.log.InfoContext(ctx, "Error log loaded", "records", len(persisted), "pending", pending)
	return nil
}

// Clear drops every record from memory and storage. The in-memory log is always
// cleared; a storage failure is returned.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.records = nil
	l.index = make(map[string]int)
	l.version++
	l.mu.Unlock()
	metrics.ErrorsPending.Set(0)

	if l.kv == nil {
		return nil
	}
	keys, err := l.kv.List(ctx, KeyPrefix)
	if err != nil {
		return fmt.Errorf("clear error log: %w", err)
	}
	for key := range keys {
		if err := l.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear error log: %w", err)
		}
	}
	return nil
}

func (l *Log) pendingLocked() int {
	n := 0
	for _, r := range l.records {
		if !r.Resolved {
			n++
		}
	}
	return n
}

func (l *Log) persist(ctx context.Context, rec Record) {
	if l.kv == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		l.log.ErrorContext(ctx, "Failed to encode error record", "id", rec.ID, "error", err)
		return
	}
	if err := l.kv.Put(ctx, KeyPrefix+rec.ID, data); err != nil {
		l.log.WarnContext(ctx, "Failed to persist error record", "id", rec.ID, "error", err)
	}
}

func (l *Log) readAll(ctx context.Context) ([]Record, error) {
	raw, err := l.kv.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for key, data := range raw {
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			l.log.WarnContext(ctx, "Skipping corrupt error record", "key", key, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func sortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Timestamp.Before(rs[j].Timestamp)
	})
}

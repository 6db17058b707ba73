package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"caremesh/modelguard/pkg/security"
)

// RecorderConfig configures the async recorder.
type RecorderConfig struct {
	// Buffer is the size of the async write channel. Default: 1000.
	Buffer int

	// WriteTimeout bounds one storage write. Default: 5s.
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Buffer:       1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes log and audit records asynchronously.
//
// Writes are strictly best-effort: a full buffer or failing store drops
// the record with a log line and never blocks or fails the primary call
// path. Close drains the buffer.
type Recorder struct {
	store   Store
	config  RecorderConfig
	records chan any
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int64

	logger *slog.Logger
}

// NewRecorder starts the background writer.
func NewRecorder(store Store, config RecorderConfig) *Recorder {
	if config.Buffer <= 0 {
		config.Buffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		store:   store,
		config:  config,
		records: make(chan any, config.Buffer),
		logger:  slog.Default().With("component", "auditlog.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// RecordCall enqueues a call log.
func (r *Recorder) RecordCall(rec *CallLog) {
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.enqueue(rec)
}

// RecordRetry enqueues a retry log.
func (r *Recorder) RecordRetry(rec *RetryLog) {
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.enqueue(rec)
}

// RecordDegradation enqueues a degradation log.
func (r *Recorder) RecordDegradation(rec *DegradationLog) {
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.enqueue(rec)
}

// RecordAudit enqueues an audit event. Details are sanitized before
// serialization so sensitive fields never reach storage. Implements
// security.AuditWriter.
func (r *Recorder) RecordAudit(ctx context.Context, action, resource, actor string, details map[string]any) {
	event := &AuditEvent{
		ID:        uuid.NewString(),
		Action:    action,
		Resource:  resource,
		Actor:     actor,
		Timestamp: time.Now(),
	}

	if len(details) > 0 {
		sanitized := security.SanitizeSensitiveData(details)
		if payload, err := json.Marshal(sanitized); err == nil {
			event.Details = string(payload)
		} else {
			r.logger.Warn("audit details marshal failed", "action", action, "error", err)
		}
	}

	r.enqueue(event)
}

// enqueue hands a record to the worker, dropping it when the buffer is
// full or the recorder is closed. The mutex guards against a send on
// the channel racing Close.
func (r *Recorder) enqueue(rec any) {
	r.mu.Lock()
	if r.closed {
		r.dropLocked(rec)
		r.mu.Unlock()
		return
	}

	select {
	case r.records <- rec:
		r.mu.Unlock()
	default:
		r.dropLocked(rec)
		r.mu.Unlock()
	}
}

func (r *Recorder) dropLocked(rec any) {
	r.dropped++
	r.logger.Warn("record dropped", "type", recordType(rec), "total_dropped", r.dropped)
}

// Dropped returns the number of records dropped since start.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// worker drains the channel and writes to storage.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for rec := range r.records {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
		var err error

		switch v := rec.(type) {
		case *CallLog:
			err = r.store.InsertCallLog(ctx, v)
		case *RetryLog:
			err = r.store.InsertRetryLog(ctx, v)
		case *DegradationLog:
			err = r.store.InsertDegradationLog(ctx, v)
		case *AuditEvent:
			err = r.store.InsertAuditEvent(ctx, v)
		}
		cancel()

		if err != nil {
			r.logger.Error("record write failed", "type", recordType(rec), "error", err)
		}
	}
}

// Close stops accepting records and drains the buffer.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()

	r.wg.Wait()
}

func recordType(rec any) string {
	switch rec.(type) {
	case *CallLog:
		return "call_log"
	case *RetryLog:
		return "retry_log"
	case *DegradationLog:
		return "degradation_log"
	case *AuditEvent:
		return "audit_event"
	default:
		return "unknown"
	}
}

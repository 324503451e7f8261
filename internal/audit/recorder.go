package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultWriteTimeout = 5 * time.Second

// Store persists audit records.
type Store interface {
	Append(ctx context.Context, rec Record) error
}

// PrincipalSource yields the id of the principal a record is attributed to.
type PrincipalSource interface {
	PrincipalID() string
}

// RecorderConfig collects dependencies required to build a Recorder.
type RecorderConfig struct {
	Store   Store
	Logger  *slog.Logger
	Metrics *Metrics
	// WriteTimeout bounds a single Append call.
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Recorder turns entity snapshots into audit records and persists them on a
// best-effort basis.
type Recorder struct {
	store     Store
	logger    *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
	now       func() time.Time
	principal PrincipalSource
}

// NewRecorder constructs a Recorder that is not yet bound to a principal.
func NewRecorder(cfg RecorderConfig) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: cfg.Store, logger: logger, metrics: cfg.Metrics, timeout: timeout, now: now}
}

// WithPrincipal returns a copy of the recorder attributing records to src.
func (r *Recorder) WithPrincipal(src PrincipalSource) *Recorder {
	clone := *r
	clone.principal = src
	return &clone
}

// Record builds the audit record for one state change and appends it to the
// store. A failed append is logged and counted but never returned: the change
// it describes has already happened.
func (r *Recorder) Record(ctx context.Context, entityType, entityID string, action Action, before, after Snapshot, description string) Record {
	fields := DiffFields(before, after)
	rec := Record{
		ID:            uuid.NewString(),
		EntityType:    entityType,
		EntityID:      entityID,
		Action:        action,
		ChangedFields: fields,
		Compliance:    ClassifyCompliance(entityType, action),
		RiskScore:     ComputeRiskScore(action, fields),
		Description:   description,
		CreatedAt:     r.now().UTC(),
	}
	if r.principal != nil {
		rec.PrincipalID = r.principal.PrincipalID()
	}
	r.metrics.observe(rec)
	if err := r.append(ctx, rec); err != nil {
		r.metrics.writeFailed()
		r.logger.Error("audit append",
			slog.String("entity", rec.EntityType),
			slog.String("entity_id", rec.EntityID),
			slog.String("action", string(rec.Action)),
			slog.Any("error", err))
	}
	return rec
}

func (r *Recorder) append(ctx context.Context, rec Record) (err error) {
	if r.store == nil {
		return fmt.Errorf("%w: store not configured", ErrAuditWrite)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrAuditWrite, p)
		}
	}()
	// The mutation this record describes has already committed, so the write
	// must not be cut short by the caller's cancellation.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Append(writeCtx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return nil
}

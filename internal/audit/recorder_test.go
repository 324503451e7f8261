package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	records []Record
	err     error
	ctxErr  error
}

func (f *fakeStore) Append(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type panicStore struct{}

func (panicStore) Append(context.Context, Record) error { panic("boom") }

type principalID string

func (p principalID) PrincipalID() string { return string(p) }

var fixedNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestRecorder(store Store, metrics *Metrics) *Recorder {
	return NewRecorder(RecorderConfig{
		Store:   store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics,
		Now:     func() time.Time { return fixedNow },
	}).WithPrincipal(principalID("u-1"))
}

func TestRecordComposesClassification(t *testing.T) {
	store := &fakeStore{}
	rec := newTestRecorder(store, nil).Record(context.Background(), "invoices", "inv-1", ActionUpdated,
		Snapshot{"total": 100.0, "status": "draft", "notes": "x"},
		Snapshot{"total": 120.0, "status": "sent", "notes": "x"},
		"invoice sent")

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u-1", rec.PrincipalID)
	assert.Equal(t, []string{"status", "total"}, rec.ChangedFields)
	assert.Equal(t, ComplianceCritical, rec.Compliance)
	assert.Equal(t, 30, rec.RiskScore)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, "invoice sent", rec.Description)

	require.Len(t, store.records, 1)
	assert.Equal(t, rec, store.records[0])
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	store := &fakeStore{err: errors.New("connection reset")}

	rec := newTestRecorder(store, metrics).Record(context.Background(), "leads", "l-1", ActionCreated, nil, Snapshot{"name": "Ada"}, "")

	assert.Equal(t, ActionCreated, rec.Action)
	assert.Equal(t, ComplianceStandard, rec.Compliance)
	assert.Equal(t, 5, rec.RiskScore)
	assert.Equal(t, float64(1), counterValue(t, registry, "odyssey_crm_audit_write_failures_total"))
	assert.Equal(t, float64(1), counterValue(t, registry, "odyssey_crm_audit_records_total"))
}

func TestRecordSurvivesPanickingStore(t *testing.T) {
	assert.NotPanics(t, func() {
		newTestRecorder(panicStore{}, nil).Record(context.Background(), "tasks", "t-1", ActionDeleted, Snapshot{"a": 1}, nil, "")
	})
}

func TestRecordWithoutStoreStillReturnsRecord(t *testing.T) {
	rec := newTestRecorder(nil, nil).Record(context.Background(), "tasks", "t-1", ActionDeleted, Snapshot{"a": 1}, nil, "")
	assert.Equal(t, ComplianceCritical, rec.Compliance)
	assert.Equal(t, 50, rec.RiskScore)
}

func TestRecordIgnoresCallerCancellation(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	newTestRecorder(store, nil).Record(ctx, "leads", "l-1", ActionCreated, nil, Snapshot{}, "")

	require.Len(t, store.records, 1)
	assert.NoError(t, store.ctxErr)
}

func TestWithPrincipalDoesNotMutateBase(t *testing.T) {
	base := NewRecorder(RecorderConfig{Store: &fakeStore{}})
	bound := base.WithPrincipal(principalID("u-2"))

	assert.Equal(t, "", base.Record(context.Background(), "leads", "l-1", ActionCreated, nil, nil, "").PrincipalID)
	assert.Equal(t, "u-2", bound.Record(context.Background(), "leads", "l-1", ActionCreated, nil, nil, "").PrincipalID)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

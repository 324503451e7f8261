package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-crm/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-crm/internal/jobs"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubLister struct {
	rows   []audit.Record
	err    error
	params audit.ListParams
}

func (s *stubLister) List(ctx context.Context, params audit.ListParams) ([]audit.Record, error) {
	s.params = params
	return s.rows, s.err
}

func gatherFamily(t *testing.T, registry *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestAuditDigestCountsByCompliance(t *testing.T) {
	registry := prometheus.NewRegistry()
	lister := &stubLister{rows: []audit.Record{
		{Compliance: audit.ComplianceStandard, RiskScore: 5},
		{Compliance: audit.ComplianceCritical, RiskScore: 50},
		{Compliance: audit.ComplianceCritical, RiskScore: 20},
	}}
	job := NewAuditDigestJob(lister, discard, jobmetrics.NewMetrics(registry))
	now := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	task, err := NewAuditDigestTask(12)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, now, lister.params.To)
	assert.Equal(t, now.Add(-12*time.Hour), lister.params.From)

	mf := gatherFamily(t, registry, "odyssey_crm_audit_digest_records")
	require.NotNil(t, mf)
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"standard": 1, "high": 0, "critical": 2}, got)
}

func TestAuditDigestDefaultsWindow(t *testing.T) {
	lister := &stubLister{}
	job := NewAuditDigestJob(lister, discard, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskAuditDigest, nil)))
	assert.Equal(t, 24*time.Hour, lister.params.To.Sub(lister.params.From))
}

func TestAuditDigestRejectsBadPayload(t *testing.T) {
	job := NewAuditDigestJob(&stubLister{}, discard, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditDigest, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditDigestPropagatesStoreError(t *testing.T) {
	job := NewAuditDigestJob(&stubLister{err: errors.New("db down")}, discard, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditDigest, nil))
	assert.ErrorContains(t, err, "db down")
}

func TestInstrumentTracksOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	fail := errors.New("boom")

	ok := instrument(metrics, discard, audit.TaskAppend, func(ctx context.Context, t *asynq.Task) error { return nil })
	bad := instrument(metrics, discard, audit.TaskAppend, func(ctx context.Context, t *asynq.Task) error { return fail })

	require.NoError(t, ok(context.Background(), asynq.NewTask(audit.TaskAppend, nil)))
	assert.ErrorIs(t, bad(context.Background(), asynq.NewTask(audit.TaskAppend, nil)), fail)

	mf := gatherFamily(t, registry, "odyssey_crm_jobs_total")
	require.NotNil(t, mf)
	statuses := map[string]float64{}
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "status" {
				statuses[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, map[string]float64{"success": 1, "failure": 1}, statuses)
}

type brokenInspector struct{}

func (brokenInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return nil, errors.New("redis down")
}

func TestHealthReportsInspectorFailure(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(brokenInspector{}, discard).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, discard).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queues":[{"queue":"audit","pending":0,"retry":0,"archived":0},{"queue":"default","pending":0,"retry":0,"archived":0}]}`, rr.Body.String())
}

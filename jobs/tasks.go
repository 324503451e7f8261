package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-crm/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-crm/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditDigest summarises the audit trail of the previous window.
	TaskAuditDigest = "audit:digest"

	defaultDigestWindow = 24 * time.Hour
)

// AuditDigestPayload describes the window a digest covers.
type AuditDigestPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewAuditDigestTask constructs an Asynq task.
func NewAuditDigestTask(windowHours int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditDigestPayload{WindowHours: windowHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditDigest, data), nil
}

// AuditLister reads audit records for a window.
type AuditLister interface {
	List(ctx context.Context, params audit.ListParams) ([]audit.Record, error)
}

// AuditDigestJob counts the records of a window by compliance level and
// reports the critical ones.
type AuditDigestJob struct {
	records AuditLister
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewAuditDigestJob constructs the digest job.
func NewAuditDigestJob(records AuditLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditDigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditDigestJob{records: records, logger: logger, metrics: metrics, now: time.Now}
}

// Handle processes TaskAuditDigest tasks.
func (j *AuditDigestJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload AuditDigestPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("audit digest payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	window := defaultDigestWindow
	if payload.WindowHours > 0 {
		window = time.Duration(payload.WindowHours) * time.Hour
	}
	to := j.now().UTC()
	rows, err := j.records.List(ctx, audit.ListParams{From: to.Add(-window), To: to})
	if err != nil {
		return fmt.Errorf("audit digest: %w", err)
	}
	counts := map[audit.Compliance]int{
		audit.ComplianceStandard: 0,
		audit.ComplianceHigh:     0,
		audit.ComplianceCritical: 0,
	}
	maxRisk := 0
	for _, rec := range rows {
		counts[rec.Compliance]++
		if rec.RiskScore > maxRisk {
			maxRisk = rec.RiskScore
		}
	}
	for level, n := range counts {
		j.metrics.SetDigest(string(level), n)
	}
	j.logger.Info("audit digest",
		slog.Duration("window", window),
		slog.Int("records", len(rows)),
		slog.Int("critical", counts[audit.ComplianceCritical]),
		slog.Int("max_risk", maxRisk))
	return nil
}

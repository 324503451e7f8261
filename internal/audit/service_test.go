package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	rows     []Record
	lastCall ListParams
}

func (s *stubTimelineRepo) List(ctx context.Context, params ListParams) ([]Record, error) {
	s.lastCall = params
	return s.rows, nil
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []Record{
			mockRecord("2024-03-10T10:00:00Z", "u-1", ActionUpdated, "leads", "1"),
			mockRecord("2024-03-09T09:00:00Z", "u-1", ActionUpdated, "invoices", "2"),
			mockRecord("2024-03-08T08:00:00Z", "u-2", ActionCreated, "tasks", "3"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastCall.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastCall.Limit)
	}
	if repo.lastCall.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastCall.Offset)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Limit != 51 || repo.lastCall.Offset != 100 {
		t.Fatalf("unexpected window %+v", repo.lastCall)
	}
	if result.Rows == nil || result.Paging.PrevPage != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestServiceExportReturnsAllRows(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []Record{
			mockRecord("2024-03-10T10:00:00Z", "actor", ActionUpdated, "leads", "1"),
			mockRecord("2024-03-09T09:00:00Z", "actor", ActionCreated, "tasks", "2"),
		},
	}
	svc := NewService(repo)
	rows, err := svc.Export(context.Background(), TimelineFilters{Entity: " leads "})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if repo.lastCall.Limit != 0 {
		t.Fatalf("export must not page, got limit %d", repo.lastCall.Limit)
	}
}

func TestWriteCSV(t *testing.T) {
	rec := mockRecord("2024-03-10T10:00:00Z", "u-1", ActionUpdated, "invoices", "inv-1")
	rec.ChangedFields = []string{"status", "total"}
	rec.RiskScore = 30

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []Record{rec}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d", len(lines))
	}
	if lines[1][5] != "status;total" || lines[1][7] != "30" {
		t.Fatalf("unexpected row %v", lines[1])
	}
}

func mockRecord(ts, principal string, action Action, entity, entityID string) Record {
	at, _ := time.Parse(time.RFC3339, ts)
	return Record{
		ID:          entity + "-" + entityID,
		PrincipalID: principal,
		EntityType:  entity,
		EntityID:    entityID,
		Action:      action,
		Compliance:  ClassifyCompliance(entity, action),
		CreatedAt:   at,
	}
}

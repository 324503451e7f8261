package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAuditWrite wraps failures to persist a record. It never reaches the
// caller of Recorder.Record.
var ErrAuditWrite = errors.New("audit: write failed")

// Action names the kind of state change a record describes.
type Action string

// Known actions.
const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionExported Action = "exported"
	ActionShared   Action = "shared"
)

// Compliance is the regulatory weight of an operation.
type Compliance string

// Compliance levels, lowest first.
const (
	ComplianceStandard Compliance = "standard"
	ComplianceHigh     Compliance = "high"
	ComplianceCritical Compliance = "critical"
)

// Record is an immutable, attributable fact about one state change.
type Record struct {
	ID            string     `json:"id"`
	PrincipalID   string     `json:"principal_id"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	Action        Action     `json:"action"`
	ChangedFields []string   `json:"changed_fields"`
	Compliance    Compliance `json:"compliance"`
	RiskScore     int        `json:"risk_score"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Snapshot is the top-level field map of an entity at one point in time.
type Snapshot map[string]any

// SnapshotOf flattens v into its top-level JSON fields. A nil v yields a nil
// snapshot.
func SnapshotOf(v any) (Snapshot, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("audit: snapshot: %w", err)
	}
	return snap, nil
}

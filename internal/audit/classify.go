package audit

import (
	"reflect"
	"sort"
	"strings"
)

const maxRiskScore = 100

var (
	criticalEntities = map[string]struct{}{
		"customers": {},
		"invoices":  {},
		"payments":  {},
	}
	highRiskActions = map[Action]struct{}{
		ActionDeleted:  {},
		ActionExported: {},
		ActionShared:   {},
	}
	baseRisk = map[Action]int{
		ActionDeleted: 50,
		ActionUpdated: 10,
		ActionCreated: 5,
	}
	sensitiveFields = []string{"amount", "total", "email", "phone", "address", "status"}
)

// DiffFields returns the sorted top-level keys whose values differ between
// the snapshots. A missing key and an explicit nil are different values.
// Creation and deletion (either snapshot nil) have no field-level diff.
func DiffFields(before, after Snapshot) []string {
	if before == nil || after == nil {
		return []string{}
	}
	changed := make(map[string]struct{})
	for key, oldVal := range before {
		newVal, ok := after[key]
		if !ok || !reflect.DeepEqual(oldVal, newVal) {
			changed[key] = struct{}{}
		}
	}
	for key := range after {
		if _, ok := before[key]; !ok {
			changed[key] = struct{}{}
		}
	}
	fields := make([]string, 0, len(changed))
	for key := range changed {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

// ClassifyCompliance maps an entity type and action to a compliance level.
// Critical entities and high-risk actions win over the high rules.
func ClassifyCompliance(entityType string, action Action) Compliance {
	if _, ok := criticalEntities[entityType]; ok {
		return ComplianceCritical
	}
	if _, ok := highRiskActions[action]; ok {
		return ComplianceCritical
	}
	if entityType == "estimates" || action == ActionUpdated {
		return ComplianceHigh
	}
	return ComplianceStandard
}

// ComputeRiskScore scores an operation from its action and the sensitive
// fields it touched. The result saturates at 100.
func ComputeRiskScore(action Action, changedFields []string) int {
	score, ok := baseRisk[action]
	if !ok {
		score = 1
	}
	for _, field := range changedFields {
		if isSensitive(field) {
			score += 10
		}
	}
	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}

func isSensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

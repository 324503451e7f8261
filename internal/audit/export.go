package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// WriteCSV serialises audit records, one row per record.
func WriteCSV(w io.Writer, rows []Record) error {
	writer := csv.NewWriter(w)
	header := []string{"At", "Principal", "Entity", "Entity ID", "Action", "Changed Fields", "Compliance", "Risk Score", "Description"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, rec := range rows {
		record := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.PrincipalID,
			rec.EntityType,
			rec.EntityID,
			string(rec.Action),
			strings.Join(rec.ChangedFields, ";"),
			string(rec.Compliance),
			strconv.Itoa(rec.RiskScore),
			rec.Description,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

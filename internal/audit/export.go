package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

var csvHeader = []string{"occurred_at", "actor_id", "action", "entity_type", "entity_id", "tenant_id", "program_id", "diff"}

// CSVExporter menulis baris timeline sebagai CSV.
type CSVExporter struct{}

// WriteCSV meng-encode baris timeline ke CSV beserta header.
func (CSVExporter) WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.EntityType,
			row.EntityID,
			row.TenantID,
			row.ProgramID,
			row.Diff,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("audit: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

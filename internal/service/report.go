package service

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"tourguard/internal/model"
)

var alertColumns = []string{"ID", "Kind", "Tourist", "Zone", "Severity", "Status", "Delivery", "Scope", "Created", "Updated"}

// ExportAlerts writes alerts to an XLSX workbook: one row per alert plus a
// summary sheet with counts per kind and severity.
func ExportAlerts(alerts []model.Alert) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Alerts"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, h := range alertColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for i, a := range alerts {
		row := i + 2
		zone := a.ZoneName
		if zone == "" {
			zone = a.ZoneID
		}
		values := []any{
			a.ID, string(a.Kind), a.TouristID, zone, a.Severity.String(), string(a.Status),
			string(a.Delivery), a.Scope, a.CreatedAt.UTC().Format(time.RFC3339), a.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
	}
	f.SetColWidth(sheet, "A", "A", 38)
	f.SetColWidth(sheet, "B", "H", 16)
	f.SetColWidth(sheet, "I", "J", 22)

	summary := "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return nil, err
	}
	f.SetCellValue(summary, "A1", "Kind")
	f.SetCellValue(summary, "B1", "low")
	f.SetCellValue(summary, "C1", "medium")
	f.SetCellValue(summary, "D1", "high")
	f.SetCellValue(summary, "E1", "open")

	type counts struct {
		bySeverity [4]int
		open       int
	}
	byKind := map[model.AlertKind]*counts{}
	for _, a := range alerts {
		c, ok := byKind[a.Kind]
		if !ok {
			c = &counts{}
			byKind[a.Kind] = c
		}
		if a.Severity.Valid() {
			c.bySeverity[a.Severity]++
		}
		if a.Status.Open() {
			c.open++
		}
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for i, k := range kinds {
		c := byKind[model.AlertKind(k)]
		row := i + 2
		f.SetCellValue(summary, fmt.Sprintf("A%d", row), k)
		f.SetCellValue(summary, fmt.Sprintf("B%d", row), c.bySeverity[model.SeverityLow])
		f.SetCellValue(summary, fmt.Sprintf("C%d", row), c.bySeverity[model.SeverityMedium])
		f.SetCellValue(summary, fmt.Sprintf("D%d", row), c.bySeverity[model.SeverityHigh])
		f.SetCellValue(summary, fmt.Sprintf("E%d", row), c.open)
	}
	f.SetColWidth(summary, "A", "A", 16)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

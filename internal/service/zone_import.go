package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"tourguard/internal/geo"
	"tourguard/internal/model"
)

const zoneSheet = "Zones"

// ZoneImportColumn describes one column of the zone import template.
type ZoneImportColumn struct {
	Name        string
	Required    bool
	Description string
	Example     string
}

// ZoneImportColumns lists the template columns in sheet order.
var ZoneImportColumns = []ZoneImportColumn{
	{"Name", true, "Display name", "North Cliff Edge"},
	{"Severity", true, "low, medium or high", "high"},
	{"Type", true, "circle or polygon", "circle"},
	{"Category", false, "restricted, wildlife, natural or other", "natural"},
	{"Scope", false, "Authority scope that receives the alerts", "park-rangers"},
	{"Lat", false, "Circle center latitude", "27.1751"},
	{"Lon", false, "Circle center longitude", "78.0421"},
	{"Radius", false, "Circle radius in meters", "150"},
	{"Points", false, "Polygon vertices as lat lon pairs separated by ;", "27.17 78.04; 27.18 78.04; 27.18 78.05"},
	{"Action", false, "Recommended action shown to the tourist", "Stay behind the railing"},
	{"Description", false, "Free text", "Unfenced drop of 40 m"},
}

// ZoneImportRow is one parsed sheet row. Error is set by validation.
type ZoneImportRow struct {
	RowNum int        `json:"row_num"`
	Zone   model.Zone `json:"zone"`
	Error  string     `json:"error,omitempty"`
}

// ZoneImportResult summarises an import run.
type ZoneImportResult struct {
	Total    int             `json:"total"`
	Imported int             `json:"imported"`
	Failed   int             `json:"failed"`
	Version  uint64          `json:"version"`
	Errors   []ZoneImportRow `json:"errors,omitempty"`
}

// GenerateZoneTemplate returns an empty import workbook with one example row
// and a help sheet.
func GenerateZoneTemplate() (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", zoneSheet)
	for i, col := range ZoneImportColumns {
		header := col.Name
		if col.Required {
			header += "*"
		}
		f.SetCellValue(zoneSheet, fmt.Sprintf("%c1", 'A'+i), header)
		f.SetCellValue(zoneSheet, fmt.Sprintf("%c2", 'A'+i), col.Example)
	}
	f.SetColWidth(zoneSheet, "A", "H", 16)
	f.SetColWidth(zoneSheet, "I", "K", 40)

	help := "Help"
	f.NewSheet(help)
	f.SetCellValue(help, "A1", "Column")
	f.SetCellValue(help, "B1", "Required")
	f.SetCellValue(help, "C1", "Description")
	for i, col := range ZoneImportColumns {
		row := i + 2
		required := "no"
		if col.Required {
			required = "yes"
		}
		f.SetCellValue(help, fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue(help, fmt.Sprintf("B%d", row), required)
		f.SetCellValue(help, fmt.Sprintf("C%d", row), col.Description)
	}
	f.SetColWidth(help, "C", "C", 50)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

// ParseZoneSheet reads zone rows from an uploaded workbook. Rows with bad
// cell values are returned with Error set rather than failing the whole file.
func ParseZoneSheet(r io.Reader) ([]ZoneImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if name == zoneSheet {
			sheet = name
			break
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("cannot read sheet %s: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, errors.New("sheet needs a header row and at least one data row")
	}

	header := make(map[string]int)
	for i, cell := range rows[0] {
		header[strings.ToLower(strings.TrimSuffix(strings.TrimSpace(cell), "*"))] = i
	}
	for _, col := range ZoneImportColumns {
		if _, ok := header[strings.ToLower(col.Name)]; col.Required && !ok {
			return nil, fmt.Errorf("missing required column %s", col.Name)
		}
	}
	cell := func(row []string, name string) string {
		if idx, ok := header[strings.ToLower(name)]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	var out []ZoneImportRow
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlankRow(row) {
			continue
		}
		ir := ZoneImportRow{RowNum: i + 1}
		z := model.Zone{
			Name:              cell(row, "Name"),
			Category:          strings.ToLower(cell(row, "Category")),
			Scope:             cell(row, "Scope"),
			RecommendedAction: cell(row, "Action"),
			Description:       cell(row, "Description"),
			Geometry:          model.GeometrySpec{Type: strings.ToLower(cell(row, "Type"))},
		}
		var problems []string
		if sev, err := model.ParseSeverity(cell(row, "Severity")); err != nil {
			problems = append(problems, err.Error())
		} else {
			z.Severity = sev
		}
		switch z.Geometry.Type {
		case model.GeometryCircle:
			lat, errLat := strconv.ParseFloat(cell(row, "Lat"), 64)
			lon, errLon := strconv.ParseFloat(cell(row, "Lon"), 64)
			radius, errRadius := strconv.ParseFloat(cell(row, "Radius"), 64)
			if errLat != nil || errLon != nil {
				problems = append(problems, "circle needs numeric Lat and Lon")
			} else {
				z.Geometry.Center = &geo.Point{Lat: lat, Lon: lon}
			}
			if errRadius != nil {
				problems = append(problems, "circle needs a numeric Radius")
			} else {
				z.Geometry.Radius = radius
			}
		case model.GeometryPolygon:
			pts, err := parsePoints(cell(row, "Points"))
			if err != nil {
				problems = append(problems, err.Error())
			}
			z.Geometry.Points = pts
		}
		ir.Zone = z
		if len(problems) > 0 {
			ir.Error = strings.Join(problems, "; ")
		}
		out = append(out, ir)
	}
	return out, nil
}

// parsePoints reads "lat lon; lat lon; ...". Commas are accepted between a
// pair's coordinates.
func parsePoints(v string) ([]geo.Point, error) {
	var pts []geo.Point
	for _, pair := range strings.Split(v, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(pair, ",", " "))
		if len(fields) != 2 {
			return nil, fmt.Errorf("bad vertex %q", pair)
		}
		lat, err1 := strconv.ParseFloat(fields[0], 64)
		lon, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("bad vertex %q", pair)
		}
		pts = append(pts, geo.Point{Lat: lat, Lon: lon})
	}
	return pts, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ValidateZoneRows runs zone validation on every row without parse errors and
// flags duplicate names within the sheet.
func ValidateZoneRows(rows []ZoneImportRow) []ZoneImportRow {
	seen := make(map[string]int)
	for i := range rows {
		row := &rows[i]
		if row.Error != "" {
			continue
		}
		z := row.Zone
		if err := z.Validate(); err != nil {
			row.Error = err.Error()
			continue
		}
		key := strings.ToLower(z.Name)
		if prev, ok := seen[key]; ok {
			row.Error = fmt.Sprintf("name duplicates row %d", prev)
			continue
		}
		seen[key] = row.RowNum
	}
	return rows
}

// ImportZones validates rows and upserts the valid ones. Each accepted row
// publishes a new zone version.
func ImportZones(ctx context.Context, store *ZoneStore, rows []ZoneImportRow) ZoneImportResult {
	rows = ValidateZoneRows(rows)
	res := ZoneImportResult{Total: len(rows)}
	for i := range rows {
		row := &rows[i]
		if row.Error == "" {
			_, version, err := store.Upsert(ctx, row.Zone)
			if err == nil {
				res.Imported++
				res.Version = version
				continue
			}
			row.Error = err.Error()
		}
		res.Failed++
		res.Errors = append(res.Errors, *row)
	}
	return res
}

// GenerateZoneErrorReport lists the rejected rows of an import.
func GenerateZoneErrorReport(rows []ZoneImportRow) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Import Errors"
	f.SetSheetName("Sheet1", sheet)
	for i, h := range []string{"Row", "Name", "Type", "Severity", "Error"} {
		f.SetCellValue(sheet, fmt.Sprintf("%c1", 'A'+i), h)
	}
	n := 2
	for _, row := range rows {
		if row.Error == "" {
			continue
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", n), row.RowNum)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", n), row.Zone.Name)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", n), row.Zone.Geometry.Type)
		if row.Zone.Severity.Valid() {
			f.SetCellValue(sheet, fmt.Sprintf("D%d", n), row.Zone.Severity.String())
		}
		f.SetCellValue(sheet, fmt.Sprintf("E%d", n), row.Error)
		n++
	}
	f.SetColWidth(sheet, "A", "A", 8)
	f.SetColWidth(sheet, "B", "D", 20)
	f.SetColWidth(sheet, "E", "E", 60)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}

package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	SheetSummary   = "Summary"
	SheetDistance  = "Distance"
	SheetRanking   = "Ranking"
	SheetIncidents = "Incidents"
	SheetPositions = "Positions"
)

var (
	distanceHeader  = []string{"Device ID", "Samples", "Km"}
	rankingHeader   = []string{"Rank", "Device", "Km", "Grave Incidents", "Grave / 100 km"}
	incidentsHeader = []string{"Time (UTC)", "Device", "Rule", "Severity", "Latitude", "Longitude"}
	positionsHeader = []string{"Device", "Points", "First Fix (UTC)", "Last Fix (UTC)"}
)

const timeLayout = "2006-01-02 15:04:05"

// GenerateExcel 生成报表 xlsx 文件
func GenerateExcel(rep *FleetReport) ([]byte, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w := &sheetWriter{f: f, headerStyle: headerStyle}

	w.sheet(SheetSummary, []string{"Metric", "Value"}, []float64{30, 30})
	scope := "fleet"
	if rep.DeviceID != "" {
		scope = rep.DeviceID
	}
	rate := interface{}("n/a")
	if rep.GraveRate != nil {
		rate = *rep.GraveRate
	}
	graves := 0
	for _, inc := range rep.Incidents {
		if inc.Severity.IsGrave() {
			graves++
		}
	}
	w.rows(SheetSummary, [][]interface{}{
		{"Scope", scope},
		{"From (UTC)", rep.Window.From.UTC().Format(timeLayout)},
		{"To (UTC)", rep.Window.To.UTC().Format(timeLayout)},
		{"Distance (km)", rep.Distance.TotalKm},
		{"Incidents", len(rep.Incidents)},
		{"Grave incidents (High/Critical)", graves},
		{"Grave incidents / 100 km", rate},
		{"Generated at (UTC)", rep.GeneratedAt.UTC().Format(timeLayout)},
	})

	w.sheet(SheetDistance, distanceHeader, []float64{38, 10, 12})
	var distRows [][]interface{}
	for _, d := range rep.Distance.Devices {
		distRows = append(distRows, []interface{}{d.DeviceID, d.Samples, d.Km})
	}
	w.rows(SheetDistance, distRows)

	w.sheet(SheetRanking, rankingHeader, []float64{8, 30, 12, 16, 16})
	var rankRows [][]interface{}
	for i, r := range rep.Ranking {
		rankRows = append(rankRows, []interface{}{i + 1, r.DeviceName, r.Km, r.Grave, r.RatePer100})
	}
	w.rows(SheetRanking, rankRows)

	w.sheet(SheetIncidents, incidentsHeader, []float64{20, 30, 22, 12, 14, 14})
	var incRows [][]interface{}
	for _, inc := range rep.Incidents {
		incRows = append(incRows, []interface{}{
			inc.DateTime.UTC().Format(timeLayout),
			inc.DeviceName,
			inc.RuleName,
			string(inc.Severity),
			floatOrNil(inc.Latitude),
			floatOrNil(inc.Longitude),
		})
	}
	w.rows(SheetIncidents, incRows)

	w.sheet(SheetPositions, positionsHeader, []float64{30, 10, 20, 20})
	var posRows [][]interface{}
	for _, p := range rep.Positions {
		posRows = append(posRows, []interface{}{p.DeviceName, p.Count, fmtTime(p.FirstFix), fmtTime(p.LastFix)})
	}
	w.rows(SheetPositions, posRows)

	if w.err != nil {
		f.Close()
		return nil, w.err
	}

	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(SheetSummary); err == nil {
		f.SetActiveSheet(idx)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter 记录第一个错误，后续写入直接跳过
type sheetWriter struct {
	f           *excelize.File
	headerStyle int
	err         error
}

func (w *sheetWriter) sheet(name string, headers []string, widths []float64) {
	if w.err != nil {
		return
	}
	if _, err := w.f.NewSheet(name); err != nil {
		w.err = fmt.Errorf("failed to create sheet %s: %w", name, err)
		return
	}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			w.err = fmt.Errorf("failed to convert coordinates: %w", err)
			return
		}
		if err := w.f.SetCellValue(name, cell, header); err != nil {
			w.err = fmt.Errorf("failed to set header cell %s: %w", cell, err)
			return
		}
		if err := w.f.SetCellStyle(name, cell, cell, w.headerStyle); err != nil {
			w.err = fmt.Errorf("failed to set header style: %w", err)
			return
		}
		if col < len(widths) {
			colName, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				w.err = fmt.Errorf("failed to convert column number: %w", err)
				return
			}
			if err := w.f.SetColWidth(name, colName, colName, widths[col]); err != nil {
				w.err = fmt.Errorf("failed to set column width: %w", err)
				return
			}
		}
	}
}

func (w *sheetWriter) rows(name string, rows [][]interface{}) {
	for i, row := range rows {
		if w.err != nil {
			return
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2) // 第1行是表头
		if err != nil {
			w.err = fmt.Errorf("failed to convert coordinates: %w", err)
			return
		}
		values := row
		if err := w.f.SetSheetRow(name, cell, &values); err != nil {
			w.err = fmt.Errorf("failed to write row %d of %s: %w", i+2, name, err)
			return
		}
	}
}

func floatOrNil(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

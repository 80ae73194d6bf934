package view

import (
	"bytes"
	"fmt"
	"time"
	"wisefido-queue-view/internal/models"

	"github.com/xuri/excelize/v2"
)

// QueueExportSheet 导出工作表名称
const QueueExportSheet = "Queue"

// QueueExportHeader 导出表头（与页面列一致，不含操作列）
var QueueExportHeader = []string{
	"Patient ID",
	"Name",
	"Oxygen Level",
	"BP",
	"Temperature",
	"Disease",
	"Priority",
}

// ExportExcel 将当前视图导出为 xlsx
// 数据行之后空一行写 Waiting / Emergency 计数
func ExportExcel(v *models.QueueView) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(QueueExportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range QueueExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(QueueExportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(QueueExportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(QueueExportSheet, "A", "G", 16); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	var patients []models.PatientRow
	var counts models.QueueCounts
	if v != nil {
		patients = v.Snapshot.Patients
		counts = v.Counts
	}

	for i, p := range patients {
		row := i + 2
		values := []any{
			p.PatientID,
			p.Name,
			float64(p.OxygenLevel),
			p.BP,
			float64(p.Temperature),
			p.Disease,
			string(p.Priority),
		}
		if err := f.SetSheetRow(QueueExportSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", row, err)
		}
	}

	footer := len(patients) + 3
	summary := [][]any{
		{"Waiting", counts.Waiting},
		{"Emergency", counts.Emergency},
	}
	if v != nil {
		summary = append(summary, []any{"Refreshed At", v.RefreshedAt.Format(time.RFC3339)})
	}
	for i, line := range summary {
		if err := f.SetSheetRow(QueueExportSheet, fmt.Sprintf("A%d", footer+i), &line); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write summary: %w", err)
		}
	}

	if err := f.SetPanes(QueueExportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel: %w", err)
	}
	return buf.Bytes(), nil
}

package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Attendance"

// XLSXExporter renders datasets into a single-sheet Excel workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// ContentType implements Renderer.
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Extension implements Renderer.
func (e *XLSXExporter) Extension() string { return "xlsx" }

// Render writes title and notes into the first rows, then the header row and data.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	rowIdx := 1
	if data.Title != "" {
		if err := f.SetCellValue(xlsxSheet, cellName(1, rowIdx), data.Title); err != nil {
			return nil, fmt.Errorf("write title: %w", err)
		}
		rowIdx++
	}
	for _, note := range data.Notes {
		if err := f.SetCellValue(xlsxSheet, cellName(1, rowIdx), note); err != nil {
			return nil, fmt.Errorf("write note: %w", err)
		}
		rowIdx++
	}
	if rowIdx > 1 {
		rowIdx++
	}

	header := make([]interface{}, len(data.Headers))
	for i, h := range data.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, cellName(1, rowIdx), &header); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(xlsxSheet, cellName(1, rowIdx), cellName(len(data.Headers), rowIdx), style)
	}

	for _, row := range data.Rows {
		rowIdx++
		record := data.record(row)
		values := make([]interface{}, len(record))
		for i, v := range record {
			values[i] = v
		}
		if err := f.SetSheetRow(xlsxSheet, cellName(1, rowIdx), &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", rowIdx, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "A1"
	}
	return name
}

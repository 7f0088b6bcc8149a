package export

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet of a workbook. Columns listed in Numeric are written
// as numbers when their value parses.
type Sheet struct {
	Name    string
	Data    Dataset
	Numeric []string
}

// XLSXExporter renders worksheets into an Excel workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs the exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes every sheet in order; the first sheet is active.
func (e *XLSXExporter) Render(sheets []Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook requires at least one sheet")
	}
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, sheet := range sheets {
		if len(sheet.Data.Headers) == 0 {
			return nil, fmt.Errorf("sheet %s requires at least one header", sheet.Name)
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.Name); err != nil {
				return nil, fmt.Errorf("rename sheet %s: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet.Name, err)
		}
		if err := writeSheet(f, sheet, header); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet Sheet, headerStyle int) error {
	numeric := make(map[string]bool, len(sheet.Numeric))
	for _, col := range sheet.Numeric {
		numeric[col] = true
	}

	headers := make([]interface{}, len(sheet.Data.Headers))
	for i, h := range sheet.Data.Headers {
		headers[i] = h
	}
	if err := f.SetSheetRow(sheet.Name, "A1", &headers); err != nil {
		return fmt.Errorf("write %s headers: %w", sheet.Name, err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet.Name, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s headers: %w", sheet.Name, err)
	}

	rows := sheet.Data.Rows
	if len(sheet.Data.Footer) > 0 {
		rows = append(append([]map[string]string{}, rows...), sheet.Data.Footer)
	}
	for r, row := range rows {
		cells := make([]interface{}, len(sheet.Data.Headers))
		for c, h := range sheet.Data.Headers {
			value := row[h]
			if numeric[h] {
				if n, err := strconv.ParseFloat(value, 64); err == nil {
					cells[c] = n
					continue
				}
			}
			cells[c] = value
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet.Name, cell, &cells); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet.Name, r+1, err)
		}
	}
	return nil
}

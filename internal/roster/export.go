package roster

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/record-extractor/internal/scanning"
)

const (
	// SheetName is the name of the single worksheet in an export
	SheetName = "Military Data"
	// ExportFileName is the download name of an export
	ExportFileName = "Military_Data_Extracted.xlsx"
	// XLSXContentType is the MIME type of an export
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Headers are the export columns in index order. Index 0 is the rightmost
// column once the sheet is displayed right-to-left.
var Headers = [7]string{
	"رقم العسكري",
	"الرتبة",
	"الاسم",
	"تاريخ الاستشهاد",
	"المكان",
	"الرقم الوطني",
	"ملاحظات",
}

// ColumnWidths are the display widths of Headers, in characters
var ColumnWidths = [7]float64{15, 10, 30, 15, 15, 20, 20}

// Grid lays records out as rows of cells, header first. The notes cell is
// always empty. Grid returns nil when there are no records.
func Grid(records []scanning.Record) [][]string {
	if len(records) == 0 {
		return nil
	}

	grid := make([][]string, 0, len(records)+1)
	grid = append(grid, Headers[:])
	for _, r := range records {
		grid = append(grid, []string{
			r.MilitaryNumber,
			r.Rank,
			r.Name,
			r.Date,
			r.Location,
			r.NationalID,
			"",
		})
	}
	return grid
}

// NewWorkbook builds the right-to-left export workbook. It returns nil
// without error when there are no records.
func NewWorkbook(records []scanning.Record) (*excelize.File, error) {
	grid := Grid(records)
	if grid == nil {
		return nil, nil
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	for i, row := range grid {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	for i, width := range ColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("setting width of column %s: %w", col, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E5E7EB"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "G1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("styling header: %w", err)
	}

	// Column A renders on the right
	rightToLeft := true
	if err := f.SetSheetView(SheetName, 0, &excelize.ViewOptions{RightToLeft: &rightToLeft}); err != nil {
		f.Close()
		return nil, fmt.Errorf("setting right-to-left view: %w", err)
	}

	return f, nil
}

// WriteWorkbook writes the export for records to w. It writes nothing and
// reports false when there are no records. The workbook is rendered to
// memory first so a failure never leaves a partial file in w.
func WriteWorkbook(w io.Writer, records []scanning.Record) (bool, error) {
	f, err := NewWorkbook(records)
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return false, fmt.Errorf("xlsx write: %w", err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return false, fmt.Errorf("writing export: %w", err)
	}
	return true, nil
}

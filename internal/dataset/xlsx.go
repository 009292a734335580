package dataset

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pulse/internal/model"
)

// ParseXLSX reads the first sheet of a workbook as a table.
func ParseXLSX(data []byte) (*Table, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, model.Invalid("dataset: open workbook: %v", err)
	}
	if len(f.Sheets) == 0 {
		return nil, model.Invalid("dataset: workbook has no sheets")
	}
	sheet := f.Sheets[0]

	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	t, err := fromRecords(records)
	return t, eris.Wrap(err, "dataset: convert workbook")
}

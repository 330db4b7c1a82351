package his

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook sheet names of an HIS roster export
const (
	StaffSheet = "Staff"
	BedsSheet  = "Beds"
)

// ImportWorkbook imports an HIS roster export. The workbook carries a
// Staff and a Beds sheet whose header rows use the HIS column names.
func (i *Importer) ImportWorkbook(ctx context.Context, r io.Reader) (ImportStats, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to parse workbook: %w", err)
	}
	defer f.Close()

	staffRows, err := sheetRecords(f, StaffSheet)
	if err != nil {
		return ImportStats{}, err
	}
	bedRows, err := sheetRecords(f, BedsSheet)
	if err != nil {
		return ImportStats{}, err
	}

	staff := make([]staffRow, 0, len(staffRows))
	for _, rec := range staffRows {
		row := staffRow{
			StaffID:        rec["StaffID"],
			FullName:       rec["FullName"],
			Role:           rec["Role"],
			Specialization: rec["Specialization"],
		}
		if v, ok := parseFlag(rec["OnDuty"]); ok {
			row.OnDuty = &v
		}
		staff = append(staff, row)
	}

	beds := make([]bedRow, 0, len(bedRows))
	for _, rec := range bedRows {
		beds = append(beds, bedRow{
			BedCode:   rec["BedCode"],
			BedNumber: parseInt(rec["BedNumber"]),
			Floor:     parseInt(rec["Floor"]),
			Ward:      rec["Ward"],
			BedType:   rec["BedType"],
			Status:    rec["Status"],
		})
	}

	return i.apply(ctx, staff, beds)
}

// sheetRecords returns the data rows of sheet keyed by header name
func sheetRecords(f *excelize.File, sheet string) ([]map[string]string, error) {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("workbook has no %q sheet", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	headerMap := make(map[int]string, len(rows[0]))
	for col, h := range rows[0] {
		headerMap[col] = strings.TrimSpace(h)
	}

	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(headerMap))
		empty := true
		for col, value := range row {
			name, ok := headerMap[col]
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			if value != "" {
				empty = false
			}
			rec[name] = value
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out, nil
}

func parseFlag(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

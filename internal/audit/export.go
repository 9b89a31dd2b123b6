// Package audit renders the applied-change log as a spreadsheet for the
// operations team.
package audit

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"daypartd/internal/model"
)

const sheetName = "audit_log"

var columns = []string{"ID", "Job ID", "Change Type", "Target Table", "Target ID", "Applied At"}

// WriteXLSX writes the audit entries as a single-sheet workbook.
func WriteXLSX(w io.Writer, entries []model.AuditEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetName)

	if err := writeHeader(f); err != nil {
		return err
	}
	for i, e := range entries {
		if err := writeEntry(f, i+2, e); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File) error {
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = f.SetCellStyle(sheetName, startCell, endCell, style)
	}
	return nil
}

func writeEntry(f *excelize.File, row int, e model.AuditEntry) error {
	values := []interface{}{
		e.ID,
		e.JobID,
		e.ChangeType,
		e.TargetTable,
		e.TargetID,
		e.AppliedAt.Format(time.RFC3339),
	}
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, val); err != nil {
			return err
		}
	}
	return nil
}

// Filename names an export covering the given range.
func Filename(from, to time.Time) string {
	return fmt.Sprintf("daypartd_audit_%s_%s.xlsx", from.Format("20060102"), to.Format("20060102"))
}

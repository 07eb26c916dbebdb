// Package excelconv converts the first worksheet of an .xlsx workbook
// to a temporary CSV file so the Query Executor can hand it to DuckDB's
// read_csv_auto the same way it handles a native CSV source (spec §4.2,
// "Excel files are converted to CSV before load; only the first
// worksheet is used"). Grounded on xuri/excelize, an out-of-pack
// dependency: no example repo reads spreadsheets, and excelize is the
// de facto standard library for this in the Go ecosystem.
package excelconv

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

// FirstSheetToCSV reads the first worksheet of the workbook at path and
// writes it to a temporary CSV file, returning its path and a cleanup
// function the caller must run once done with it.
func FirstSheetToCSV(path string) (csvPath string, cleanup func(), err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("workbook has no worksheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", nil, fmt.Errorf("read worksheet %q: %w", sheets[0], err)
	}

	tmp, err := os.CreateTemp("", "nalyze-xlsx-*.csv")
	if err != nil {
		return "", nil, fmt.Errorf("create temp csv: %w", err)
	}
	cleanup = func() { os.Remove(tmp.Name()) }

	w := csv.NewWriter(tmp)
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for _, r := range rows {
		if len(r) < width {
			padded := make([]string, width)
			copy(padded, r)
			r = padded
		}
		if err := w.Write(r); err != nil {
			tmp.Close()
			cleanup()
			return "", nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp csv: %w", err)
	}

	return tmp.Name(), cleanup, nil
}

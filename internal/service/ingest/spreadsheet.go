package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// SpreadsheetParser renders every sheet of an xlsx or legacy xls workbook as
// CSV behind a sheet banner, in workbook order.
type SpreadsheetParser struct{}

type sheetRows struct {
	name string
	rows [][]string
}

func (SpreadsheetParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	data, err := readAll(reader)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty workbook")
	}
	opt := parser.GetCommonOptions(&parser.Options{}, opts...)

	var sheets []sheetRows
	legacy := bytes.HasPrefix(data, oleMagic) ||
		(!bytes.HasPrefix(data, zipMagic) && strings.EqualFold(filepath.Ext(opt.URI), ".xls"))
	if legacy {
		sheets, err = readXLS(data)
	} else {
		sheets, err = readXLSX(data)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, rowCount, err := renderSheets(sheets)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{
		MetaRowCount:   rowCount,
		MetaSheetCount: len(sheets),
	}
	for k, v := range opt.ExtraMeta {
		meta[k] = v
	}
	return []*schema.Document{{ID: opt.URI, Content: text, MetaData: meta}}, nil
}

func readXLSX(data []byte) (sheets []sheetRows, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed workbook: %v", r)
		}
	}()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		sheets = append(sheets, sheetRows{name: name, rows: rows})
	}
	return sheets, nil
}

func readXLS(data []byte) (sheets []sheetRows, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed workbook: %v", r)
		}
	}()
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if wb == nil {
		return nil, errors.New("open workbook: no workbook stream")
	}
	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		rows := make([][]string, 0, int(ws.MaxRow)+1)
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := xlsRow(ws, r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			last := row.LastCol()
			if last < 0 {
				last = 0
			}
			cells := make([]string, last)
			for c := row.FirstCol(); c < last; c++ {
				cells[c] = row.Col(c)
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, sheetRows{name: ws.Name, rows: rows})
	}
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return sheets, nil
}

// xlsRow returns nil for rows the sheet never stored; the library panics on those.
func xlsRow(ws *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(i)
}

func renderSheets(sheets []sheetRows) (string, int, error) {
	parts := make([]string, 0, len(sheets))
	total := 0
	for _, s := range sheets {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		n := 0
		for _, row := range s.rows {
			if isBlankRow(row) {
				continue
			}
			if err := w.Write(trimTrailingBlank(row)); err != nil {
				return "", 0, fmt.Errorf("render sheet %s: %w", s.name, err)
			}
			n++
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", 0, fmt.Errorf("render sheet %s: %w", s.name, err)
		}
		total += n
		parts = append(parts, fmt.Sprintf("=== SHEET: %s (%d rows) ===\n%s", s.name, n, strings.TrimRight(buf.String(), "\n")))
	}
	return strings.Join(parts, "\n\n"), total, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

var (
	ErrNoHeader        = errors.New("sheet has no header row")
	ErrInvalidWorkbook = errors.New("invalid workbook")
)

// Row is one data row of an uploaded sheet. Number is the 1-based sheet row.
type Row struct {
	Number int               `json:"row"`
	Values map[string]string `json:"values"`
}

type Table struct {
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// HasColumn reports whether the header row contains h.
func (t *Table) HasColumn(h string) bool {
	for _, header := range t.Headers {
		if header == h {
			return true
		}
	}
	return false
}

// NewTable builds a table from raw sheet values with the header in the
// first row. Fully empty rows are skipped; short rows are padded.
func NewTable(values [][]string) (*Table, error) {
	if len(values) == 0 {
		return nil, ErrNoHeader
	}
	t := &Table{}
	for _, h := range values[0] {
		t.Headers = append(t.Headers, strings.TrimSpace(h))
	}
	for len(t.Headers) > 0 && t.Headers[len(t.Headers)-1] == "" {
		t.Headers = t.Headers[:len(t.Headers)-1]
	}
	if len(t.Headers) == 0 {
		return nil, ErrNoHeader
	}

	for i, raw := range values[1:] {
		row := Row{Number: i + 2, Values: make(map[string]string, len(t.Headers))}
		empty := true
		for j, h := range t.Headers {
			if h == "" {
				continue
			}
			var v string
			if j < len(raw) {
				v = strings.TrimSpace(raw[j])
			}
			if v != "" {
				empty = false
			}
			// first occurrence wins for duplicated headers
			if _, ok := row.Values[h]; !ok {
				row.Values[h] = v
			}
		}
		if empty {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadTable parses an uploaded workbook. The Data sheet is read when present,
// otherwise the first sheet.
func ReadTable(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets", ErrInvalidWorkbook)
	}
	sheet := sheets[0]
	for _, s := range sheets {
		if s == DataSheet {
			sheet = s
			break
		}
	}

	// raw values, so numbers keep their digits and dates arrive as serials
	values, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	t, err := NewTable(values)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	log.WithFields(log.Fields{
		"sheet":   sheet,
		"columns": len(t.Headers),
		"rows":    len(t.Rows),
	}).Debug("Read uploaded workbook")
	return t, nil
}

// Package spreadsheet renders dataset templates as xlsx workbooks with native
// data validation and reads edited workbooks back into tables.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/vip"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	DataSheet       = "Data"
	LookupSheet     = "Lookup_Lists"
	BooleanListName = "BooleanList"
)

var ErrNoObjects = errors.New("no objects to export")

const (
	minColWidth = 12
	maxColWidth = 60
)

// Filename is the download name of a dataset's template.
func Filename(dataset string) string {
	return strings.ReplaceAll(dataset, " ", "_") + "_Dataset.xlsx"
}

// Rows converts objects into template rows in header order.
func Rows(s *schema.Schema, objects []vip.Object) [][]interface{} {
	rows := make([][]interface{}, 0, len(objects))
	for _, o := range objects {
		ot := o.ObjectType
		if ot == "" {
			ot = s.ObjectType
		}
		row := []interface{}{ot, o.Identifier}
		for _, c := range s.Columns {
			row = append(row, c.CellValue(o.AttributeString(c.Attribute)))
		}
		rows = append(rows, row)
	}
	return rows
}

type template struct {
	f      *excelize.File
	schema *schema.Schema
	rows   [][]interface{}
	// defined name per enumerated attribute
	lists map[string]string
}

// WriteTemplate writes the workbook for objects to w.
func WriteTemplate(w io.Writer, s *schema.Schema, objects []vip.Object) error {
	if len(objects) == 0 {
		return ErrNoObjects
	}
	f := excelize.NewFile()
	defer f.Close()

	t := &template{f: f, schema: s, rows: Rows(s, objects), lists: map[string]string{}}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"write data", t.writeData},
		{"write lookup lists", t.writeLookups},
		{"style columns", t.styleColumns},
		{"add validation", t.addValidation},
		{"protect sheet", t.protect},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	log.Infof("Generated %s template with %d row(s)", s.Dataset, len(objects))
	return nil
}

func (t *template) lastRow() int {
	return len(t.rows) + 1
}

func (t *template) writeData() error {
	if err := t.f.SetSheetName("Sheet1", DataSheet); err != nil {
		return err
	}
	headers := t.schema.Headers()
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := t.f.SetSheetRow(DataSheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := t.f.SetSheetRow(DataSheet, cell, &row); err != nil {
			return err
		}
	}

	last, err := excelize.CoordinatesToCellName(len(headers), t.lastRow())
	if err != nil {
		return err
	}
	if err := t.f.AutoFilter(DataSheet, "A1:"+last, nil); err != nil {
		return err
	}
	return t.f.SetPanes(DataSheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      2,
		YSplit:      1,
		TopLeftCell: "C2",
		ActivePane:  "bottomRight",
	})
}

// writeLookups fills the hidden sheet that backs the dropdown lists.
func (t *template) writeLookups() error {
	if _, err := t.f.NewSheet(LookupSheet); err != nil {
		return err
	}
	col := 1
	add := func(name string, options []string) error {
		for i, o := range options {
			cell, err := excelize.CoordinatesToCellName(col, i+1)
			if err != nil {
				return err
			}
			if err := t.f.SetCellValue(LookupSheet, cell, o); err != nil {
				return err
			}
		}
		letter, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		col++
		return t.f.SetDefinedName(&excelize.DefinedName{
			Name:     name,
			RefersTo: fmt.Sprintf("'%s'!$%s$1:$%s$%d", LookupSheet, letter, letter, len(options)),
		})
	}

	if err := add(BooleanListName, schema.BooleanOptions); err != nil {
		return err
	}
	used := map[string]bool{strings.ToLower(BooleanListName): true}
	for _, c := range t.schema.Columns {
		if c.Type != schema.String || !c.HasOptions() {
			continue
		}
		name := uniqueName(ListName(c.Attribute), used)
		if err := add(name, c.Options); err != nil {
			return err
		}
		t.lists[c.Attribute] = name
	}
	if err := t.f.SetSheetVisible(LookupSheet, false); err != nil {
		return err
	}
	t.f.SetActiveSheet(0)
	return nil
}

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_.]+`)

// ListName turns an attribute name into a valid workbook defined name.
func ListName(attribute string) string {
	name := invalidNameChars.ReplaceAllString(attribute, "_")
	name = strings.Trim(name, "_.")
	if name == "" {
		name = "Attribute"
	}
	if r, _ := utf8.DecodeRuneInString(name); r >= '0' && r <= '9' {
		name = "_" + name
	}
	name += "_List"
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s%d", name, i)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func (t *template) styleColumns() error {
	header, err := t.f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"EDEDED"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment:  &excelize.Alignment{Horizontal: "left"},
		Protection: &excelize.Protection{Locked: false},
	})
	if err != nil {
		return err
	}
	locked, err := t.f.NewStyle(&excelize.Style{Protection: &excelize.Protection{Locked: true}})
	if err != nil {
		return err
	}
	unlocked, err := t.f.NewStyle(&excelize.Style{
		Alignment:  &excelize.Alignment{Horizontal: "right"},
		Protection: &excelize.Protection{Locked: false},
	})
	if err != nil {
		return err
	}

	headers := t.schema.Headers()
	for i := range headers {
		letter, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		style := locked
		if i >= 2 {
			c := t.schema.Columns[i-2]
			style = unlocked
			if c.Type == schema.Date && !c.IsYear() {
				numFmt := c.NumberFormat()
				if style, err = t.f.NewStyle(&excelize.Style{
					CustomNumFmt: &numFmt,
					Alignment:    &excelize.Alignment{Horizontal: "right"},
					Protection:   &excelize.Protection{Locked: false},
				}); err != nil {
					return err
				}
			}
		}
		if err := t.f.SetCellStyle(DataSheet, letter+"2", fmt.Sprintf("%s%d", letter, t.lastRow()), style); err != nil {
			return err
		}
		if err := t.f.SetColWidth(DataSheet, letter, letter, t.width(i)); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return t.f.SetCellStyle(DataSheet, "A1", last, header)
}

// width fits a column to its longest value.
func (t *template) width(col int) float64 {
	n := utf8.RuneCountInString(t.schema.Headers()[col])
	for _, row := range t.rows {
		var s string
		switch v := row[col].(type) {
		case nil:
		case time.Time:
			s = v.Format(schema.ISODate)
		default:
			s = fmt.Sprint(v)
		}
		if l := utf8.RuneCountInString(s); l > n {
			n = l
		}
	}
	w := float64(n + 2)
	if w < minColWidth {
		w = minColWidth
	}
	if w > maxColWidth {
		w = maxColWidth
	}
	return w
}

func (t *template) addValidation() error {
	for i := 0; i < 2; i++ {
		dv, err := t.validation(i)
		if err != nil {
			return err
		}
		dv.SetInput("Let op!", "Deze kolom mag niet worden aangepast.")
		if err := t.f.AddDataValidation(DataSheet, dv); err != nil {
			return err
		}
	}
	for i, c := range t.schema.Columns {
		dv, err := t.validation(i + 2)
		if err != nil {
			return err
		}
		ok, err := t.constrain(dv, c)
		if err != nil {
			return fmt.Errorf("column %s: %w", c.Header, err)
		}
		if !ok {
			continue
		}
		if err := t.f.AddDataValidation(DataSheet, dv); err != nil {
			return err
		}
	}
	return nil
}

func (t *template) validation(col int) (*excelize.DataValidation, error) {
	letter, err := excelize.ColumnNumberToName(col + 1)
	if err != nil {
		return nil, err
	}
	dv := excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s%d", letter, letter, t.lastRow())
	return dv, nil
}

// constrain applies the column's rule to dv. It reports false for
// columns without one.
func (t *template) constrain(dv *excelize.DataValidation, c schema.Column) (bool, error) {
	stop := excelize.DataValidationErrorStyleStop
	switch {
	case c.Type == schema.Boolean:
		dv.SetSqrefDropList(BooleanListName)
		dv.SetError(stop, "Ongeldige invoer", "Kies Ja of Nee.")
	case c.IsYear():
		if err := dv.SetRange(schema.MinYear, schema.MaxYear, excelize.DataValidationTypeWhole, excelize.DataValidationOperatorBetween); err != nil {
			return false, err
		}
		dv.SetError(stop, "Ongeldig jaartal", fmt.Sprintf("Voer een jaartal in tussen %d en %d.", schema.MinYear, schema.MaxYear))
	case c.Type == schema.Date:
		lo := schema.SerialDate(time.Date(schema.MinYear, 1, 1, 0, 0, 0, 0, time.UTC))
		hi := schema.SerialDate(time.Date(schema.MaxYear, 12, 31, 0, 0, 0, 0, time.UTC))
		if err := dv.SetRange(int(lo), int(hi), excelize.DataValidationTypeDate, excelize.DataValidationOperatorBetween); err != nil {
			return false, err
		}
		dv.SetError(stop, "Ongeldige datum", "Voer een datum in als "+c.NumberFormat()+".")
	case c.Type == schema.Integer:
		if err := dv.SetRange(-schema.MaxNumber, schema.MaxNumber, excelize.DataValidationTypeWhole, excelize.DataValidationOperatorBetween); err != nil {
			return false, err
		}
		dv.SetError(stop, "Ongeldig getal", "Voer een geheel getal in.")
	case c.Type == schema.Decimal:
		if err := dv.SetRange(-schema.MaxNumber, schema.MaxNumber, excelize.DataValidationTypeDecimal, excelize.DataValidationOperatorBetween); err != nil {
			return false, err
		}
		dv.SetError(stop, "Ongeldig getal", "Voer een getal in.")
	case c.HasOptions():
		dv.SetSqrefDropList(t.lists[c.Attribute])
		dv.SetError(stop, "Ongeldige invoer", "Kies een waarde uit de lijst.")
	default:
		return false, nil
	}
	if c.Definition != "" {
		dv.SetInput(c.Header, truncate(c.Definition, 255))
	}
	return true, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (t *template) protect() error {
	return t.f.ProtectSheet(DataSheet, &excelize.SheetProtectionOptions{
		AutoFilter:          true,
		Sort:                true,
		SelectLockedCells:   true,
		SelectUnlockedCells: true,
	})
}

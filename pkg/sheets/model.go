package sheets

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/vip"

	"google.golang.org/api/sheets/v4"
)

// maxTitleLength is the longest tab title Google Sheets accepts.
const maxTitleLength = 100

// TabName is the title of the tab a dataset is published to.
func TabName(s *schema.Schema) string {
	return Title(s.Dataset)
}

// Title turns a dataset name into a valid tab title.
func Title(dataset string) string {
	name := strings.NewReplacer("[", "(", "]", ")", ":", "-", "*", "", "?", "", "/", "-", `\`, "-").Replace(dataset)
	if utf8.RuneCountInString(name) > maxTitleLength {
		name = string([]rune(name)[:maxTitleLength])
	}
	return name
}

// quoteRange turns a tab title into an A1 range prefix.
func quoteRange(tab, ref string) string {
	r := "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	if ref != "" {
		r += "!" + ref
	}
	return r
}

// rowData renders the header and object rows as typed cells. Text is sent
// as a string value so identifiers such as 00123 keep their leading zeros.
func rowData(s *schema.Schema, objects []vip.Object) []*sheets.RowData {
	rows := make([]*sheets.RowData, 0, len(objects)+1)
	header := &sheets.RowData{}
	for _, h := range s.Headers() {
		header.Values = append(header.Values, cellData(h))
	}
	rows = append(rows, header)
	for _, o := range objects {
		ot := o.ObjectType
		if ot == "" {
			ot = s.ObjectType
		}
		row := &sheets.RowData{Values: []*sheets.CellData{cellData(ot), cellData(o.Identifier)}}
		for _, c := range s.Columns {
			row.Values = append(row.Values, cellData(c.CellValue(o.AttributeString(c.Attribute))))
		}
		rows = append(rows, row)
	}
	return rows
}

func cellData(v interface{}) *sheets.CellData {
	var ev sheets.ExtendedValue
	switch v := v.(type) {
	case nil:
		return &sheets.CellData{}
	case string:
		ev.StringValue = &v
	case int:
		f := float64(v)
		ev.NumberValue = &f
	case int64:
		f := float64(v)
		ev.NumberValue = &f
	case float64:
		ev.NumberValue = &v
	case time.Time:
		f := schema.SerialDate(v)
		ev.NumberValue = &f
	default:
		str := fmt.Sprint(v)
		ev.StringValue = &str
	}
	return &sheets.CellData{UserEnteredValue: &ev}
}

// dataRequests sizes the tab to the rows and writes them from A1.
func dataRequests(sheetID int64, rows []*sheets.RowData) []*sheets.Request {
	var cols int
	for _, r := range rows {
		if len(r.Values) > cols {
			cols = len(r.Values)
		}
	}
	return []*sheets.Request{
		{UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId:         sheetID,
				GridProperties:  &sheets.GridProperties{RowCount: int64(len(rows)), ColumnCount: int64(cols)},
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "gridProperties.rowCount,gridProperties.columnCount",
		}},
		{UpdateCells: &sheets.UpdateCellsRequest{
			Start: &sheets.GridCoordinate{
				SheetId:         sheetID,
				ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"},
			},
			Rows:   rows,
			Fields: "userEnteredValue",
		}},
	}
}

// toStrings converts the unformatted values read from a sheet. Dates come
// back as serial numbers.
func toStrings(in [][]interface{}) [][]string {
	out := make([][]string, len(in))
	for i, row := range in {
		out[i] = make([]string, len(row))
		for j, v := range row {
			switch v := v.(type) {
			case nil:
			case string:
				out[i][j] = v
			case float64:
				out[i][j] = strconv.FormatFloat(v, 'f', -1, 64)
			case bool:
				out[i][j] = strconv.FormatBool(v)
			default:
				out[i][j] = fmt.Sprint(v)
			}
		}
	}
	return out
}

func gridRange(sheetID int64, startRow, endRow, startCol, endCol int64) *sheets.GridRange {
	return &sheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    startRow,
		EndRowIndex:      endRow,
		StartColumnIndex: startCol,
		EndColumnIndex:   endCol,
		// sheet 0 is the first tab and must still be sent
		ForceSendFields: []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}
}

// resetRequests clears a tab that is published again.
func resetRequests(sh *sheets.Sheet) []*sheets.Request {
	id := sh.Properties.SheetId
	reqs := []*sheets.Request{
		{UpdateCells: &sheets.UpdateCellsRequest{
			Range:  &sheets.GridRange{SheetId: id, ForceSendFields: []string{"SheetId"}},
			Fields: "*",
		}},
	}
	if sh.BasicFilter != nil {
		reqs = append(reqs, &sheets.Request{ClearBasicFilter: &sheets.ClearBasicFilterRequest{SheetId: id, ForceSendFields: []string{"SheetId"}}})
	}
	for _, pr := range sh.ProtectedRanges {
		reqs = append(reqs, &sheets.Request{DeleteProtectedRange: &sheets.DeleteProtectedRangeRequest{ProtectedRangeId: pr.ProtectedRangeId}})
	}
	return reqs
}

// formatRequests applies the column rules, filter and frozen panes to a tab
// holding rows data rows below the header.
func formatRequests(sheetID int64, s *schema.Schema, rows int) []*sheets.Request {
	cols := int64(len(s.Headers()))
	last := int64(rows) + 1

	reqs := []*sheets.Request{
		{RepeatCell: &sheets.RepeatCellRequest{
			Range: gridRange(sheetID, 0, 1, 0, cols),
			Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
				BackgroundColor: &sheets.Color{Red: 0.93, Green: 0.93, Blue: 0.93},
				TextFormat:      &sheets.TextFormat{Bold: true},
			}},
			Fields: "userEnteredFormat(backgroundColor,textFormat)",
		}},
		{UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
			Properties: &sheets.SheetProperties{
				SheetId:         sheetID,
				GridProperties:  &sheets.GridProperties{FrozenRowCount: 1, FrozenColumnCount: 2},
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "gridProperties.frozenRowCount,gridProperties.frozenColumnCount",
		}},
		{SetBasicFilter: &sheets.SetBasicFilterRequest{
			Filter: &sheets.BasicFilter{Range: gridRange(sheetID, 0, last, 0, cols)},
		}},
		{AddProtectedRange: &sheets.AddProtectedRangeRequest{
			ProtectedRange: &sheets.ProtectedRange{
				Range:       gridRange(sheetID, 1, last, 0, 2),
				Description: "objectType en identifier mogen niet worden aangepast",
				WarningOnly: true,
			},
		}},
	}

	for i, c := range s.Columns {
		col := int64(i + 2)
		rng := gridRange(sheetID, 1, last, col, col+1)
		if rule := validationRule(c); rule != nil {
			reqs = append(reqs, &sheets.Request{SetDataValidation: &sheets.SetDataValidationRequest{Range: rng, Rule: rule}})
		}
		if c.Type == schema.Date && !c.IsYear() {
			reqs = append(reqs, &sheets.Request{RepeatCell: &sheets.RepeatCellRequest{
				Range: rng,
				Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
					NumberFormat: &sheets.NumberFormat{Type: "DATE", Pattern: c.NumberFormat()},
				}},
				Fields: "userEnteredFormat.numberFormat",
			}})
		}
	}
	return reqs
}

func validationRule(c schema.Column) *sheets.DataValidationRule {
	switch {
	case c.Type == schema.Boolean:
		return listRule(schema.BooleanOptions)
	case c.IsYear():
		return numberRule(schema.MinYear, schema.MaxYear)
	case c.Type == schema.Date:
		return &sheets.DataValidationRule{
			Condition:    &sheets.BooleanCondition{Type: "DATE_IS_VALID"},
			Strict:       true,
			InputMessage: "Voer een datum in als " + c.NumberFormat(),
		}
	case c.Type == schema.Integer, c.Type == schema.Decimal:
		return numberRule(-schema.MaxNumber, schema.MaxNumber)
	case c.HasOptions():
		return listRule(c.Options)
	}
	return nil
}

func listRule(options []string) *sheets.DataValidationRule {
	vals := make([]*sheets.ConditionValue, len(options))
	for i, o := range options {
		vals[i] = &sheets.ConditionValue{UserEnteredValue: o}
	}
	return &sheets.DataValidationRule{
		Condition:    &sheets.BooleanCondition{Type: "ONE_OF_LIST", Values: vals},
		Strict:       true,
		ShowCustomUi: true,
	}
}

func numberRule(lo, hi int) *sheets.DataValidationRule {
	return &sheets.DataValidationRule{
		Condition: &sheets.BooleanCondition{Type: "NUMBER_BETWEEN", Values: []*sheets.ConditionValue{
			{UserEnteredValue: fmt.Sprint(lo)},
			{UserEnteredValue: fmt.Sprint(hi)},
		}},
		Strict: true,
	}
}

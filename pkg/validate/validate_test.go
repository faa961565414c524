package validate

import (
	"testing"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/spreadsheet"
	"datamakelaar/pkg/vip"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	md := &vip.Metadata{ObjectTypes: []vip.ObjectType{{
		Name: "Building",
		Attributes: []vip.Attribute{
			{Name: "Dakpartner", Type: "STRING", AttributeValueOptions: []string{"A", "B"}},
			{Name: "Antenne", Type: "BOOLEAN"},
			{Name: "Jaar", Type: "DATE", DateFormat: "yyyy"},
		},
	}}}
	s, err := schema.Build(&dataset.Config{
		Dataset:    "PO Daken",
		ObjectType: "Building",
		Attributes: []dataset.Column{
			{ExcelColumnName: "Partner", AttributeName: "Dakpartner"},
			{ExcelColumnName: "Antenne", AttributeName: "Antenne"},
			{ExcelColumnName: "Jaar", AttributeName: "Jaar"},
		},
	}, md)
	require.NoError(t, err)
	return s
}

func table(t *testing.T, values ...[]string) *spreadsheet.Table {
	t.Helper()
	tbl, err := spreadsheet.NewTable(values)
	require.NoError(t, err)
	return tbl
}

var header = []string{"objectType", "identifier", "Partner", "Antenne", "Jaar"}

func TestValidTable(t *testing.T) {
	r := Table(testSchema(t), table(t,
		header,
		[]string{"Building", "B1", "A", "Ja", "1990"},
		[]string{"Building", "B2", "B", "nee", "2001"},
	), Options{KnownIdentifiers: map[string]bool{"B1": true, "B2": true}})

	assert.True(t, r.OK())
	assert.Empty(t, r.Warnings)
	assert.Equal(t, 2, r.RowCount)
}

func TestEmptyTable(t *testing.T) {
	r := Table(testSchema(t), table(t, header), Options{})
	assert.False(t, r.OK())
	require.Len(t, r.Critical, 1)
	assert.Equal(t, "the table contains no rows", r.Critical[0].Message)
}

func TestMissingAndExtraColumns(t *testing.T) {
	r := Table(testSchema(t), table(t,
		[]string{"objectType", "identifier", "Partner", "Partner", "Notities"},
		[]string{"Building", "B1", "A", "A", "x"},
	), Options{})

	assert.False(t, r.OK())
	assert.Equal(t, []Issue{
		{Severity: Critical, Values: []string{"Antenne", "Jaar"}, Message: "required columns are missing"},
		{Severity: Critical, Values: []string{"Partner"}, Message: "columns appear more than once"},
	}, r.Critical)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, []string{"Notities"}, r.Warnings[0].Values)
}

func TestIdentifierIssues(t *testing.T) {
	r := Table(testSchema(t), table(t,
		header,
		[]string{"Building", "B1", "A", "Ja", "1990"},
		[]string{"Building", "", "A", "Ja", "1990"},
		[]string{"Building", "B1", "A", "Ja", "1990"},
		[]string{"Building", "B9", "A", "Ja", "1990"},
	), Options{KnownIdentifiers: map[string]bool{"B1": true}})

	require.Len(t, r.Critical, 3)
	assert.Equal(t, []int{3}, r.Critical[0].Rows)
	assert.Equal(t, "identifier is empty", r.Critical[0].Message)
	assert.Equal(t, []int{2, 4}, r.Critical[1].Rows)
	assert.Equal(t, []string{"B1"}, r.Critical[1].Values)
	assert.Equal(t, []string{"B9"}, r.Critical[2].Values)
	assert.Equal(t, []int{5}, r.Critical[2].Rows)
}

func TestValueIssues(t *testing.T) {
	r := Table(testSchema(t), table(t,
		header,
		[]string{"Unit", "B1", "C", "misschien", "1850"},
		[]string{"Building", "B2", "C", "Ja", ""},
		[]string{"Building", "B3", "", "Ja", "oud"},
	), Options{})

	byColumn := map[string]Issue{}
	for _, i := range r.Critical {
		byColumn[i.Column] = i
	}
	assert.Equal(t, []string{"Unit"}, byColumn["objectType"].Values)
	assert.Equal(t, []int{2, 3}, byColumn["Partner"].Rows)
	assert.Equal(t, []string{"C"}, byColumn["Partner"].Values)
	assert.Contains(t, byColumn["Partner"].Message, "A, B")
	assert.Equal(t, []int{2}, byColumn["Antenne"].Rows)
	assert.Equal(t, []string{"1850", "oud"}, byColumn["Jaar"].Values)

	require.Len(t, r.Warnings, 2)
	assert.Equal(t, "Partner", r.Warnings[0].Column)
	assert.Equal(t, "1 row(s) have no value", r.Warnings[0].Message)
	assert.Equal(t, "Jaar", r.Warnings[1].Column)
}

func TestIssueString(t *testing.T) {
	i := Issue{Column: "Jaar", Rows: []int{2, 5}, Values: []string{"oud"}, Message: "invalid years"}
	assert.Equal(t, "invalid years [column Jaar] rows 2, 5 values oud", i.String())
}

// Package validate checks an uploaded table against a dataset schema before
// anything is written back.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/spreadsheet"
)

type Severity string

const (
	Critical Severity = "critical"
	Warning  Severity = "warning"
)

// maxValues caps the offending values listed on one issue.
const maxValues = 10

type Issue struct {
	Severity Severity `json:"severity"`
	Column   string   `json:"column,omitempty"`
	Rows     []int    `json:"rows,omitempty"`
	Values   []string `json:"values,omitempty"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	b.WriteString(i.Message)
	if i.Column != "" {
		fmt.Fprintf(&b, " [column %s]", i.Column)
	}
	if len(i.Rows) > 0 {
		fmt.Fprintf(&b, " rows %s", joinInts(i.Rows))
	}
	if len(i.Values) > 0 {
		fmt.Fprintf(&b, " values %s", strings.Join(i.Values, ", "))
	}
	return b.String()
}

type Report struct {
	Critical []Issue `json:"critical"`
	Warnings []Issue `json:"warnings"`
	RowCount int     `json:"rowCount"`
}

// OK reports whether the table may be submitted.
func (r *Report) OK() bool {
	return len(r.Critical) == 0
}

func (r *Report) add(i Issue) {
	if i.Severity == Critical {
		r.Critical = append(r.Critical, i)
	} else {
		r.Warnings = append(r.Warnings, i)
	}
}

type Options struct {
	// KnownIdentifiers are the identifiers that exist remotely. When nil the
	// check is skipped.
	KnownIdentifiers map[string]bool
}

// Table validates every row of t against s.
func Table(s *schema.Schema, t *spreadsheet.Table, opts Options) *Report {
	r := &Report{Critical: []Issue{}, Warnings: []Issue{}, RowCount: len(t.Rows)}

	if len(t.Rows) == 0 {
		r.add(Issue{Severity: Critical, Message: "the table contains no rows"})
		return r
	}

	checkHeaders(r, s, t)
	if !t.HasColumn(dataset.IdentifierColumn) {
		return r
	}
	checkIdentifiers(r, t, opts)
	if t.HasColumn(dataset.ObjectTypeColumn) {
		checkObjectType(r, s, t)
	}
	for _, c := range s.Columns {
		if t.HasColumn(c.Header) {
			checkColumn(r, c, t)
		}
	}
	return r
}

func checkHeaders(r *Report, s *schema.Schema, t *spreadsheet.Table) {
	var missing []string
	for _, h := range s.Headers() {
		if !t.HasColumn(h) {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		r.add(Issue{Severity: Critical, Values: missing, Message: "required columns are missing"})
	}

	expected := map[string]bool{}
	for _, h := range s.Headers() {
		expected[h] = true
	}
	seen := map[string]bool{}
	var extra, dup []string
	for _, h := range t.Headers {
		if h == "" {
			continue
		}
		if seen[h] {
			dup = append(dup, h)
			continue
		}
		seen[h] = true
		if !expected[h] {
			extra = append(extra, h)
		}
	}
	if len(dup) > 0 {
		r.add(Issue{Severity: Critical, Values: dup, Message: "columns appear more than once"})
	}
	if len(extra) > 0 {
		r.add(Issue{Severity: Warning, Values: extra, Message: "unexpected columns are ignored"})
	}
}

func checkIdentifiers(r *Report, t *spreadsheet.Table, opts Options) {
	var empty []int
	rows := map[string][]int{}
	var order []string
	for _, row := range t.Rows {
		id := row.Values[dataset.IdentifierColumn]
		if id == "" {
			empty = append(empty, row.Number)
			continue
		}
		if _, ok := rows[id]; !ok {
			order = append(order, id)
		}
		rows[id] = append(rows[id], row.Number)
	}
	if len(empty) > 0 {
		r.add(Issue{Severity: Critical, Column: dataset.IdentifierColumn, Rows: empty, Message: "identifier is empty"})
	}
	for _, id := range order {
		if len(rows[id]) > 1 {
			r.add(Issue{Severity: Critical, Column: dataset.IdentifierColumn, Rows: rows[id], Values: []string{id}, Message: "identifier appears more than once"})
		}
	}

	if opts.KnownIdentifiers == nil {
		return
	}
	var unknown collector
	for _, id := range order {
		if !opts.KnownIdentifiers[id] {
			unknown.add(rows[id][0], id)
		}
	}
	if unknown.any() {
		r.add(unknown.issue(Critical, dataset.IdentifierColumn, "identifiers do not exist in VIP"))
	}
}

func checkObjectType(r *Report, s *schema.Schema, t *spreadsheet.Table) {
	var wrong collector
	for _, row := range t.Rows {
		if v := row.Values[dataset.ObjectTypeColumn]; v != s.ObjectType {
			wrong.add(row.Number, v)
		}
	}
	if wrong.any() {
		r.add(wrong.issue(Critical, dataset.ObjectTypeColumn, fmt.Sprintf("object type must be %s", s.ObjectType)))
	}
}

func checkColumn(r *Report, c schema.Column, t *spreadsheet.Table) {
	var invalid collector
	var firstErr error
	empty := 0
	for _, row := range t.Rows {
		v := row.Values[c.Header]
		if v == "" {
			empty++
			continue
		}
		if _, err := c.Parse(v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			invalid.add(row.Number, v)
		}
	}
	if invalid.any() {
		r.add(invalid.issue(Critical, c.Header, invalidMessage(c, firstErr)))
	}
	if empty > 0 {
		r.add(Issue{Severity: Warning, Column: c.Header, Message: fmt.Sprintf("%d row(s) have no value", empty)})
	}
}

func invalidMessage(c schema.Column, err error) string {
	switch {
	case c.Type == schema.Boolean:
		return fmt.Sprintf("invalid boolean values, expected %s", strings.Join(schema.BooleanOptions, " or "))
	case c.IsYear():
		return fmt.Sprintf("invalid years, expected a year between %d and %d", schema.MinYear, schema.MaxYear)
	case c.Type == schema.Date:
		format := c.DateFormat
		if format == "" {
			format = schema.DefaultDateFormat
		}
		return fmt.Sprintf("invalid dates, expected format %s", format)
	case c.Type == schema.Integer:
		return "invalid whole numbers"
	case c.Type == schema.Decimal:
		return "invalid numbers"
	case c.HasOptions():
		return fmt.Sprintf("values are not allowed, allowed values are: %s", strings.Join(c.Options, ", "))
	}
	return err.Error()
}

// collector gathers the rows and distinct values of one issue.
type collector struct {
	rows   []int
	values []string
	seen   map[string]bool
}

func (c *collector) add(row int, v string) {
	c.rows = append(c.rows, row)
	if c.seen == nil {
		c.seen = map[string]bool{}
	}
	if !c.seen[v] {
		c.seen[v] = true
		c.values = append(c.values, v)
	}
}

func (c *collector) any() bool {
	return len(c.rows) > 0
}

func (c *collector) issue(sev Severity, column, msg string) Issue {
	values := c.values
	if len(values) > maxValues {
		values = values[:maxValues]
	}
	sort.Ints(c.rows)
	return Issue{Severity: sev, Column: column, Rows: c.rows, Values: values, Message: msg}
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}

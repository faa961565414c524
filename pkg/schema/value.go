package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Spreadsheet representation of booleans.
const (
	BooleanTrue  = "Ja"
	BooleanFalse = "Nee"
)

var BooleanOptions = []string{BooleanTrue, BooleanFalse}

// ISODate is the layout dates other than years are sent back in.
const ISODate = "2006-01-02"

// DefaultDateFormat is used for DATE attributes without a dateFormat.
const DefaultDateFormat = "yyyy-MM-dd"

var amsterdam = loadLocation("Europe/Amsterdam")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// day zero of spreadsheet serial dates. Spreadsheets count a nonexistent
// 1900-02-29, so starting at 1899-12-30 matches them from 1900-03-01 on.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// SerialDate returns the spreadsheet serial number of the day of t.
func SerialDate(t time.Time) float64 {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return math.Round(d.Sub(excelEpoch).Hours() / 24)
}

// CellValue converts a remote attribute value into the value written to a
// template cell. Values that do not fit the column type are written as-is
// so validation flags them after upload.
func (c Column) CellValue(remote string, present bool) interface{} {
	if !present {
		return nil
	}
	switch {
	case c.Type == Boolean:
		return toJaNee(remote)
	case c.IsYear():
		if y, err := remoteYear(remote); err == nil {
			return y
		}
	case c.Type == Date:
		if t, err := parseRemoteTime(remote); err == nil {
			return t
		}
	case c.Type == Integer:
		v := strings.TrimSpace(remote)
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			if n > MaxNumber || n < -MaxNumber {
				return v
			}
			return n
		}
	case c.Type == Decimal:
		v := strings.TrimSpace(remote)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if !fitsCell(f) {
				return v
			}
			return f
		}
	}
	return remote
}

// fitsCell reports whether f survives the 15 significant digits a
// spreadsheet keeps.
func fitsCell(f float64) bool {
	if math.Abs(f) > MaxNumber {
		return false
	}
	g, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', 15, 64), 64)
	return err == nil && g == f
}

// DisplayValue is the text form of CellValue, for targets that only take
// text.
func (c Column) DisplayValue(remote string, present bool) string {
	switch v := c.CellValue(remote, present).(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(c.GoLayout())
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Parse converts an uploaded cell into the value sent to VIP. Empty cells
// become nil, which clears the attribute.
func (c Column) Parse(cell string) (interface{}, error) {
	v := strings.TrimSpace(cell)
	if v == "" {
		return nil, nil
	}
	switch {
	case c.Type == Boolean:
		b, err := ParseBoolean(v)
		if err != nil {
			return nil, err
		}
		return strconv.FormatBool(b), nil
	case c.IsYear():
		y, err := parseYear(v)
		if err != nil {
			return nil, err
		}
		return strconv.Itoa(y), nil
	case c.Type == Date:
		t, err := c.parseDate(v)
		if err != nil {
			return nil, err
		}
		return t.Format(ISODate), nil
	case c.Type == Integer:
		n, err := parseInteger(v)
		if err != nil {
			return nil, err
		}
		return strconv.FormatInt(n, 10), nil
	case c.Type == Decimal:
		f, err := parseDecimal(v)
		if err != nil {
			return nil, err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	if c.HasOptions() && !c.AllowsOption(v) {
		return nil, fmt.Errorf("%q is not one of the allowed values", v)
	}
	return v, nil
}

// Canonical brings a remote value into the same form Parse produces, so the
// two can be compared. Values Parse rejects are kept raw.
func (c Column) Canonical(remote string, present bool) interface{} {
	if !present {
		return nil
	}
	v, err := c.Parse(c.DisplayValue(remote, present))
	if err != nil {
		return remote
	}
	return v
}

func toJaNee(remote string) string {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "true":
		return BooleanTrue
	case "false":
		return BooleanFalse
	}
	return remote
}

// ParseBoolean accepts the spellings users put in a boolean column.
func ParseBoolean(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "ja", "true", "1", "yes", "waar":
		return true, nil
	case "nee", "false", "0", "no", "onwaar":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean, expected %s or %s", v, BooleanTrue, BooleanFalse)
}

func parseYear(v string) (int, error) {
	var y int
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%q is not a year", v)
		}
		y = int(f)
	} else if t, err := parseRemoteTime(v); err == nil {
		y = t.Year()
	} else {
		return 0, fmt.Errorf("%q is not a year", v)
	}
	if y < MinYear || y > MaxYear {
		return 0, fmt.Errorf("year %d is outside %d-%d", y, MinYear, MaxYear)
	}
	return y, nil
}

func remoteYear(remote string) (int, error) {
	v := strings.TrimSpace(remote)
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	t, err := parseRemoteTime(v)
	if err != nil {
		return 0, err
	}
	return t.Year(), nil
}

// parseRemoteTime reads the timestamps VIP returns. Zoned timestamps are
// moved to Amsterdam time so a midnight-local date keeps its day and year.
func parseRemoteTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.In(amsterdam)
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", ISODate} {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date", v)
}

func (c Column) parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(c.GoLayout(), v); err == nil {
		return t, nil
	}
	if t, err := parseRemoteTime(v); err == nil {
		return t, nil
	}
	// an unformatted date cell comes through as its serial number
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		return excelEpoch.Add(time.Duration(f * 24 * float64(time.Hour))).Truncate(24 * time.Hour), nil
	}
	return time.Time{}, fmt.Errorf("%q is not a date in format %s", v, c.dateFormat())
}

// maxExactFloat is the largest whole number a float64 holds exactly.
const maxExactFloat = 1 << 53

func parseInteger(v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	// exponent notation means the cell was rounded to 15 digits
	if strings.ContainsAny(v, "eE") {
		return 0, fmt.Errorf("%q is rounded, enter the whole number as text", v)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return 0, fmt.Errorf("%q is not a whole number", v)
	}
	return int64(f), nil
}

func parseDecimal(v string) (float64, error) {
	if strings.Contains(v, ",") && !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", v)
	}
	return f, nil
}

func (c Column) dateFormat() string {
	if c.DateFormat == "" {
		return DefaultDateFormat
	}
	return c.DateFormat
}

// GoLayout translates the column's VIP date format into a time layout.
func (c Column) GoLayout() string {
	return translate(c.dateFormat(), goTokens)
}

// NumberFormat translates the column's VIP date format into a spreadsheet
// number format.
func (c Column) NumberFormat() string {
	return translate(c.dateFormat(), excelTokens)
}

var goTokens = map[string]string{
	"yyyy": "2006", "yy": "06",
	"MM": "01", "M": "1",
	"dd": "02", "d": "2",
	"HH": "15", "hh": "03",
	"mm": "04", "ss": "05",
}

var excelTokens = map[string]string{
	"yyyy": "yyyy", "yy": "yy",
	"MM": "mm", "M": "m",
	"dd": "dd", "d": "d",
	"HH": "hh", "hh": "hh",
	"mm": "mm", "ss": "ss",
}

// translate rewrites runs of pattern letters through tokens and copies
// everything else.
func translate(pattern string, tokens map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		j := i
		for j < len(pattern) && pattern[j] == pattern[i] {
			j++
		}
		run := pattern[i:j]
		if out, ok := tokens[run]; ok {
			b.WriteString(out)
		} else {
			b.WriteString(run)
		}
		i = j
	}
	return b.String()
}

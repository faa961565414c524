// Package schema joins a dataset config with the live VIP metadata into the
// list of typed columns that drives template generation and validation.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/vip"
)

type Type string

const (
	String  Type = vip.TypeString
	Boolean Type = vip.TypeBoolean
	Date    Type = vip.TypeDate
	Integer Type = vip.TypeInteger
	Decimal Type = vip.TypeDecimal
)

// YearFormat is the VIP date format for attributes that only hold a year.
const YearFormat = "yyyy"

const (
	MinYear = 1900
	MaxYear = 2100
)

// MaxNumber bounds numeric cells. Spreadsheets keep 15 significant digits,
// larger values are written as text.
const MaxNumber = 999999999999999

type Column struct {
	Header     string   `json:"header"`
	Attribute  string   `json:"attribute"`
	Type       Type     `json:"type"`
	Options    []string `json:"options,omitempty"`
	DateFormat string   `json:"dateFormat,omitempty"`
	Definition string   `json:"definition,omitempty"`
}

// IsYear reports whether the column is a DATE that only holds a year.
func (c Column) IsYear() bool {
	return c.Type == Date && c.DateFormat == YearFormat
}

func (c Column) HasOptions() bool {
	return len(c.Options) > 0
}

func (c Column) AllowsOption(v string) bool {
	for _, o := range c.Options {
		if o == v {
			return true
		}
	}
	return false
}

type Schema struct {
	Key        string   `json:"key"`
	Dataset    string   `json:"dataset"`
	ObjectType string   `json:"objectType"`
	Columns    []Column `json:"columns"`
}

// Build maps every configured column onto its attribute in the metadata.
// Missing attributes are reported together so a config can be fixed in one go.
func Build(cfg *dataset.Config, md *vip.Metadata) (*Schema, error) {
	ot, ok := md.ObjectType(cfg.ObjectType)
	if !ok {
		return nil, fmt.Errorf("object type %q not found in metadata", cfg.ObjectType)
	}

	s := &Schema{
		Key:        cfg.Key,
		Dataset:    cfg.Dataset,
		ObjectType: cfg.ObjectType,
		Columns:    make([]Column, 0, len(cfg.Attributes)),
	}
	var missing []string
	for _, a := range cfg.Attributes {
		attr, ok := ot.Attribute(a.AttributeName)
		if !ok {
			missing = append(missing, a.AttributeName)
			continue
		}
		s.Columns = append(s.Columns, Column{
			Header:     a.ExcelColumnName,
			Attribute:  attr.Name,
			Type:       normalizeType(attr.Type),
			Options:    attr.AttributeValueOptions,
			DateFormat: attr.DateFormat,
			Definition: attr.Definition,
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("attributes not found for object type %s: %s", cfg.ObjectType, strings.Join(missing, ", "))
	}
	return s, nil
}

func normalizeType(t string) Type {
	switch strings.ToUpper(t) {
	case vip.TypeBoolean:
		return Boolean
	case vip.TypeDate, "DATETIME":
		return Date
	case vip.TypeInteger, "INT", "LONG":
		return Integer
	case vip.TypeDecimal, "NUMBER", "DOUBLE", "FLOAT":
		return Decimal
	default:
		return String
	}
}

// Headers returns the header row: the fixed columns followed by the
// configured ones.
func (s *Schema) Headers() []string {
	h := []string{dataset.ObjectTypeColumn, dataset.IdentifierColumn}
	for _, c := range s.Columns {
		h = append(h, c.Header)
	}
	return h
}

// Column returns the column for a header.
func (s *Schema) Column(header string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Header == header {
			return c, true
		}
	}
	return Column{}, false
}

// AttributeNames returns the remote attribute names in column order.
func (s *Schema) AttributeNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Attribute
	}
	return names
}

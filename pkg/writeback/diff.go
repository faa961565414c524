// Package writeback turns a validated table into VIP update objects, works
// out which of them changed and pushes them back in batches.
package writeback

import (
	"fmt"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/spreadsheet"
	"datamakelaar/pkg/vip"
)

// Record is an update object together with the sheet row it came from.
type Record struct {
	Row    int        `json:"row"`
	Object vip.Object `json:"object"`
}

type AttributeChange struct {
	Attribute string      `json:"attribute"`
	Column    string      `json:"column"`
	Old       interface{} `json:"old"`
	New       interface{} `json:"new"`
}

type Change struct {
	Record
	Attributes []AttributeChange `json:"attributes"`
}

// ToObjects converts every table row into an update object. Empty cells
// become null attributes. The table is expected to have passed validation;
// a value that still cannot be converted is an error.
func ToObjects(s *schema.Schema, t *spreadsheet.Table) ([]Record, error) {
	records := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		o := vip.Object{
			ObjectType: s.ObjectType,
			Identifier: row.Values[dataset.IdentifierColumn],
			Attributes: make(map[string]interface{}, len(s.Columns)),
		}
		for _, c := range s.Columns {
			v, err := c.Parse(row.Values[c.Header])
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", row.Number, c.Header, err)
			}
			o.Attributes[c.Attribute] = v
		}
		records = append(records, Record{Row: row.Number, Object: o})
	}
	return records, nil
}

// Diff keeps the records with at least one attribute that differs from the
// current remote object. Records without a remote counterpart count as
// changed for every non-empty attribute.
func Diff(s *schema.Schema, proposed []Record, current []vip.Object) []Change {
	byID := make(map[string]vip.Object, len(current))
	for _, o := range current {
		byID[o.Identifier] = o
	}

	var changes []Change
	for _, r := range proposed {
		cur, exists := byID[r.Object.Identifier]
		var attrs []AttributeChange
		for _, c := range s.Columns {
			next := r.Object.Attributes[c.Attribute]
			var old interface{}
			if exists {
				old = c.Canonical(cur.AttributeString(c.Attribute))
			}
			if old == next {
				continue
			}
			attrs = append(attrs, AttributeChange{
				Attribute: c.Attribute,
				Column:    c.Header,
				Old:       old,
				New:       next,
			})
		}
		if len(attrs) > 0 {
			changes = append(changes, Change{Record: r, Attributes: attrs})
		}
	}
	return changes
}

// Objects returns the update objects of changes.
func Objects(changes []Change) []vip.Object {
	objects := make([]vip.Object, len(changes))
	for i, c := range changes {
		objects[i] = c.Object
	}
	return objects
}

// RecordObjects returns the update objects of records.
func RecordObjects(records []Record) []vip.Object {
	objects := make([]vip.Object, len(records))
	for i, r := range records {
		objects[i] = r.Object
	}
	return objects
}

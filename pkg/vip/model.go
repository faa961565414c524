package vip

import (
	"fmt"
	"strconv"
)

// Attribute types as reported by the metadata endpoint.
const (
	TypeString  = "STRING"
	TypeBoolean = "BOOLEAN"
	TypeDate    = "DATE"
	TypeInteger = "INTEGER"
	TypeDecimal = "DECIMAL"
)

type Metadata struct {
	ObjectTypes []ObjectType `json:"objectTypes"`
}

type ObjectType struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
}

type Attribute struct {
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Source                string   `json:"source,omitempty"`
	Definition            string   `json:"definition,omitempty"`
	AttributeCategory     string   `json:"attributeCategory,omitempty"`
	DateFormat            string   `json:"dateFormat,omitempty"`
	AttributeValueOptions []string `json:"attributeValueOptions,omitempty"`
	ContactPerson         string   `json:"contactPerson,omitempty"`
	ContactEmail          string   `json:"contactEmail,omitempty"`
}

// ObjectType returns the named object type, if the metadata contains it.
func (m *Metadata) ObjectType(name string) (*ObjectType, bool) {
	for i := range m.ObjectTypes {
		if m.ObjectTypes[i].Name == name {
			return &m.ObjectTypes[i], true
		}
	}
	return nil, false
}

// Attribute returns the named attribute of the object type.
func (o *ObjectType) Attribute(name string) (*Attribute, bool) {
	for i := range o.Attributes {
		if o.Attributes[i].Name == name {
			return &o.Attributes[i], true
		}
	}
	return nil, false
}

// Object is a single record in VIP. Attribute values are strings or nil
// on the way out; on the way in the API may hand back any JSON scalar.
type Object struct {
	ObjectType       string                 `json:"objectType"`
	Identifier       string                 `json:"identifier"`
	ParentObjectType string                 `json:"parentObjectType,omitempty"`
	ParentIdentifier string                 `json:"parentIdentifier,omitempty"`
	Attributes       map[string]interface{} `json:"attributes"`
}

// AttributeString renders an attribute value as the API's string form.
// The second return is false when the attribute is absent or null.
func (o Object) AttributeString(name string) (string, bool) {
	v, ok := o.Attributes[name]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return fmt.Sprint(val), true
	}
}

type ObjectQuery struct {
	ObjectType string
	Attributes []string
	Identifier string
	OnlyActive bool
	Page       int
	PageSize   int
}

type ObjectPage struct {
	Objects     []Object `json:"objects"`
	TotalCount  int      `json:"totalCount"`
	TotalPages  int      `json:"totalPages"`
	CurrentPage int      `json:"currentPage"`
}

// ObjectResult is the per-object outcome of an update or upsert.
type ObjectResult struct {
	ObjectType string `json:"objectType"`
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
	IsCreation bool   `json:"isCreation,omitempty"`
	Message    string `json:"message"`
}

// APIError is returned for any non-2xx response that is not retried.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, e.Body)
}

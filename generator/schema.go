package generator

import (
	"encoding/json"
	"strings"
)

// SchemaType names a JSON value type.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
)

// Schema is the provider-neutral output contract handed to the oracle.
// Clients translate it into their own structured-output format.
type Schema struct {
	Type        SchemaType
	Description string
	Nullable    bool
	Enum        []string
	Items       *Schema
	Properties  map[string]*Schema
	Required    []string
	// Order is the property order the oracle should emit.
	Order []string
}

// BuildRowSchema describes an array of rows for the template. Every column
// is nullable but required as a field, so decoded rows keep a stable shape.
func BuildRowSchema(t TableTemplate) *Schema {
	props := make(map[string]*Schema, len(t.Columns))
	keys := t.Keys()
	for _, c := range t.Columns {
		props[c.Key] = &Schema{
			Type:        kindType(c.Kind),
			Nullable:    true,
			Description: columnHint(c),
		}
	}
	return &Schema{
		Type: TypeArray,
		Items: &Schema{
			Type:       TypeObject,
			Properties: props,
			Required:   keys,
			Order:      keys,
		},
	}
}

// BuildInferenceSchema describes the combined template + rows document the
// oracle returns for an uploaded file. Row values travel as key/value cells
// because the columns are not known up front.
func BuildInferenceSchema() *Schema {
	str := func(desc string) *Schema { return &Schema{Type: TypeString, Description: desc} }
	column := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"key":       str("snake_case identifier, unique within the table"),
			"label":     str("display name"),
			"subLabel":  {Type: TypeString, Nullable: true, Description: "unit or allowed range, e.g. 7.2-7.8"},
			"valueKind": {Type: TypeString, Enum: []string{string(KindNumeric), string(KindTextual)}},
			"group":     {Type: TypeString, Nullable: true, Description: "header group shared by related columns"},
		},
		Required: []string{"key", "label", "subLabel", "valueKind", "group"},
		Order:    []string{"key", "label", "subLabel", "valueKind", "group"},
	}
	cell := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"key":   str("column key"),
			"value": {Type: TypeString, Nullable: true},
		},
		Required: []string{"key", "value"},
		Order:    []string{"key", "value"},
	}
	row := &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"cells": {Type: TypeArray, Items: cell},
		},
		Required: []string{"cells"},
	}
	fields := []string{"name", "description", "domainContext", "generationRules", "targetRowCount", "columns", "rows"}
	return &Schema{
		Type: TypeObject,
		Properties: map[string]*Schema{
			"name":            str("short logbook title"),
			"description":     str("one sentence describing the logbook"),
			"domainContext":   str("the real-world system being logged"),
			"generationRules": str("constraints that keep generated values plausible"),
			"targetRowCount":  {Type: TypeInteger},
			"columns":         {Type: TypeArray, Items: column},
			"rows":            {Type: TypeArray, Items: row},
		},
		Required: fields,
		Order:    fields,
	}
}

// JSONSchema renders the tree as a JSON Schema document. Nullable types
// become ["type","null"] and objects are closed.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{}
	if s.Nullable {
		out["type"] = []any{string(s.Type), "null"}
	} else {
		out["type"] = string(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		enum := make([]any, 0, len(s.Enum)+1)
		for _, e := range s.Enum {
			enum = append(enum, e)
		}
		if s.Nullable {
			enum = append(enum, nil)
		}
		out["enum"] = enum
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if s.Type == TypeObject {
		props := make(map[string]any, len(s.Properties))
		for k, p := range s.Properties {
			props[k] = p.JSONSchema()
		}
		out["properties"] = props
		required := s.Required
		if required == nil {
			required = []string{}
		}
		out["required"] = required
		out["additionalProperties"] = false
	}
	return out
}

// MarshalJSON lets a Schema be embedded directly in request payloads.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.JSONSchema())
}

func kindType(k ValueKind) SchemaType {
	if k == KindNumeric {
		return TypeNumber
	}
	return TypeString
}

func columnHint(c ColumnSpec) string {
	var b strings.Builder
	b.WriteString(c.Label)
	if c.SubLabel != "" {
		b.WriteString(" (")
		b.WriteString(c.SubLabel)
		b.WriteString(")")
	}
	if c.Group != "" {
		b.WriteString(" [")
		b.WriteString(c.Group)
		b.WriteString("]")
	}
	return b.String()
}

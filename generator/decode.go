package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/gjson"
)

// DecodeRows turns the oracle's text into rows shaped by schema (an array of
// objects). Unknown keys are dropped, absent keys become nil and cells are
// coerced to their column type; a cell that cannot be coerced becomes nil.
// Only broken JSON or a non-array structure is an error. Blank output yields
// zero rows and no error.
func DecodeRows(purpose Purpose, raw string, schema *Schema) ([]RowRecord, error) {
	rows, _, err := decodeRows(purpose, raw, schema)
	return rows, err
}

// decodeRows is DecodeRows that also reports how many cells were nulled
// because their value did not fit the column type.
func decodeRows(purpose Purpose, raw string, schema *Schema) ([]RowRecord, int, error) {
	if schema == nil || schema.Type != TypeArray || schema.Items == nil {
		return nil, 0, &DecodeError{Purpose: purpose, Reason: "row schema must be an array of objects"}
	}
	text := stripFences(raw)
	if text == "" {
		return nil, 0, nil
	}
	if !gjson.Valid(text) {
		return nil, 0, &DecodeError{Purpose: purpose, Reason: "response is not valid JSON"}
	}
	parsed := gjson.Parse(text)
	// Some providers only accept object roots; rows then arrive wrapped.
	if parsed.IsObject() {
		parsed = parsed.Get("rows")
	}
	if !parsed.IsArray() {
		return nil, 0, &DecodeError{Purpose: purpose, Reason: "response is not a JSON array"}
	}

	var items []any
	if err := json.Unmarshal([]byte(parsed.Raw), &items); err != nil {
		return nil, 0, &DecodeError{Purpose: purpose, Reason: "unmarshal rows", Cause: err}
	}
	rows := make([]RowRecord, 0, len(items))
	nulled := 0
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			return nil, 0, &DecodeError{Purpose: purpose, Reason: fmt.Sprintf("row %d is not an object", i)}
		}
		row, n := normalizeRow(obj, schema.Items)
		rows = append(rows, row)
		nulled += n
	}
	if err := validateRows(rows, schema); err != nil {
		return nil, 0, &DecodeError{Purpose: purpose, Reason: "schema validation failed", Cause: err}
	}
	return rows, nulled, nil
}

// normalizeRow keeps the schema's keys and coerces each cell. It returns the
// number of cells set to nil because they did not fit their type.
func normalizeRow(obj map[string]any, item *Schema) (RowRecord, int) {
	row := make(RowRecord, len(item.Properties))
	nulled := 0
	for key, prop := range item.Properties {
		v, ok := coerceCell(prop.Type, obj[key])
		if !ok {
			nulled++
		}
		row[key] = v
	}
	return row, nulled
}

// coerceCell converts v to the scalar kind of typ. Numbers in text columns
// become strings; anything that cannot be read as typ becomes nil with ok false.
func coerceCell(typ SchemaType, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch typ {
	case TypeNumber, TypeInteger:
		switch x := v.(type) {
		case float64:
			return x, true
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, true
			}
			if f, ok := parseNumber(x); ok {
				return f, true
			}
		}
		return nil, false
	default:
		switch x := v.(type) {
		case string:
			return x, true
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(x), true
		}
		return nil, false
	}
}

// thousandsPattern matches comma-grouped integers such as 1,200 or 12,345.5.
var thousandsPattern = regexp.MustCompile(`^[-+]?[1-9][0-9]{0,2}(,[0-9]{3})+(\.[0-9]+)?$`)

// parseNumber reads a decimal that may use a comma as decimal separator
// ("7,4") or as thousands separator ("1,200", "1,234.5"). Other comma
// forms are rejected.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch {
	case thousandsPattern.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1 && !strings.Contains(s, "."):
		s = strings.Replace(s, ",", ".", 1)
	case strings.Contains(s, ","):
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func validateRows(rows []RowRecord, schema *Schema) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	result := compiled.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("%v", result.Errors)
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// IsDecodeError reports whether err came from decoding an oracle response.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

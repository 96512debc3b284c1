// Package validate turns raw model responses into domain values.
//
// Decoding is two-phase: the text is first decoded into a loosely typed tree
// (objects as map[string]any, numbers as json.Number), then each field is
// checked and copied into the domain type. Nothing the model declares about
// its own output is trusted.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// stripFences removes a surrounding ```lang ... ``` block some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// decodeObject decodes text into a generic JSON object.
func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(stripFences(text))))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after json value")
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("root is %s, want object", kindOf(root))
	}
	return obj, nil
}

// optionalString returns the trimmed string at key. A present non-string value is an error.
func optionalString(obj map[string]any, key string) (*string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%s is %s, want string", key, kindOf(v))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// number reads a finite numeric value. Numeric strings are accepted.
func number(obj map[string]any, key string) (float64, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%s is missing", key)
	}
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		f = parsed
	case string:
		parsed, err := json.Number(strings.TrimSpace(n)).Float64()
		if err != nil {
			return 0, fmt.Errorf("%s is not numeric: %q", key, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%s is %s, want number", key, kindOf(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s is not finite", key)
	}
	return f, nil
}

// appSitesMetadata serialises an optional appSites value into the metadata column.
func appSitesMetadata(obj map[string]any) *string {
	v, ok := obj["appSites"]
	if !ok || v == nil {
		return nil
	}
	b, err := json.Marshal(map[string]any{"appSites": v})
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/adesege/factbeat/internal/storage"
)

// ValidationError marks a malformed candidate: entity name outside the known
// vocabulary, or a value that fails type coercion. The candidate is dropped
// and logged; processing continues.
type ValidationError struct {
	EntityName string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate for %q: %s", e.EntityName, e.Reason)
}

type valueKind int

const (
	kindText valueKind = iota
	kindIdentifier
	kindNumber
	kindBool
)

// entitySpec pins down how one known attribute is canonicalized.
type entitySpec struct {
	name string
	kind valueKind
}

// vocabulary maps every accepted entity name (including synonyms the model
// tends to produce) to its canonical spec.
var vocabulary = map[string]entitySpec{
	"tin":                 {name: "tin", kind: kindIdentifier},
	"tax_id":              {name: "tin", kind: kindIdentifier},
	"tax_identification":  {name: "tin", kind: kindIdentifier},
	"vat_number":          {name: "vat_number", kind: kindIdentifier},
	"vat_registration":    {name: "vat_number", kind: kindIdentifier},
	"cac_number":          {name: "cac_number", kind: kindIdentifier},
	"rc_number":           {name: "cac_number", kind: kindIdentifier},
	"business_name":       {name: "business_name", kind: kindText},
	"company_name":        {name: "business_name", kind: kindText},
	"business_type":       {name: "business_type", kind: kindText},
	"industry":            {name: "industry", kind: kindText},
	"location":            {name: "location", kind: kindText},
	"address":             {name: "location", kind: kindText},
	"business_address":    {name: "location", kind: kindText},
	"state":               {name: "state", kind: kindText},
	"lga":                 {name: "lga", kind: kindText},
	"employee_count":      {name: "employee_count", kind: kindNumber},
	"employees":           {name: "employee_count", kind: kindNumber},
	"staff_count":         {name: "employee_count", kind: kindNumber},
	"annual_revenue":      {name: "annual_revenue", kind: kindNumber},
	"yearly_revenue":      {name: "annual_revenue", kind: kindNumber},
	"monthly_revenue":     {name: "monthly_revenue", kind: kindNumber},
	"vat_registered":      {name: "vat_registered", kind: kindBool},
	"is_vat_registered":   {name: "vat_registered", kind: kindBool},
	"business_start_year": {name: "business_start_year", kind: kindNumber},
}

// Normalize canonicalizes a candidate in place: entity name folded against
// the vocabulary, value coerced to its canonical JSON form, layer defaulted.
// Two candidates with equal normalized entity name and value are the same
// claim. Returns a *ValidationError for anything outside the vocabulary or
// uncoercible.
func Normalize(c Candidate) (Candidate, error) {
	key := normalizeEntityName(c.EntityName)
	spec, ok := vocabulary[key]
	if !ok {
		return Candidate{}, &ValidationError{EntityName: c.EntityName, Reason: "unknown entity name"}
	}
	c.EntityName = spec.name

	if c.Confidence < 0 || c.Confidence > 1 {
		return Candidate{}, &ValidationError{EntityName: spec.name, Reason: fmt.Sprintf("confidence %v outside [0,1]", c.Confidence)}
	}

	value, err := normalizeValue(spec.kind, c.Value)
	if err != nil {
		return Candidate{}, &ValidationError{EntityName: spec.name, Reason: err.Error()}
	}
	c.Value = value

	switch c.Layer {
	case storage.LayerProject, storage.LayerArea, storage.LayerResource, storage.LayerArchive:
	default:
		c.Layer = storage.LayerResource
	}

	return c, nil
}

// normalizeEntityName lowercases and squeezes separators so "Employee Count",
// "employee-count", and "employee_count" all hit the same vocabulary key.
func normalizeEntityName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	lastSep := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastSep = false
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			if !lastSep && b.Len() > 0 {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// normalizeValue coerces a raw JSON value to its canonical JSON encoding for
// the entity's kind.
func normalizeValue(kind valueKind, rawJSON string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(rawJSON), &v); err != nil {
		return "", fmt.Errorf("value is not valid JSON: %v", err)
	}

	switch kind {
	case kindNumber:
		n, err := coerceNumber(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil

	case kindBool:
		b, err := coerceBool(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil

	case kindIdentifier:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		s = strings.ToUpper(collapseWhitespace(s))
		s = strings.ReplaceAll(s, " ", "")
		if s == "" {
			return "", fmt.Errorf("empty identifier")
		}
		return marshalString(s), nil

	default: // kindText
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected text, got %T", v)
		}
		s = collapseWhitespace(s)
		if s == "" {
			return "", fmt.Errorf("empty text value")
		}
		return marshalString(s), nil
	}
}

func coerceNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if r == ',' || r == '₦' || unicode.IsSpace(r) {
				return -1
			}
			return r
		}, n)
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y":
			return true, nil
		case "false", "no", "n":
			return false, nil
		}
		return false, fmt.Errorf("cannot parse %q as bool", b)
	default:
		return false, fmt.Errorf("expected bool, got %T", v)
	}
}

// collapseWhitespace trims and squeezes runs of whitespace to single spaces.
// Free text is not semantically rewritten beyond this.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func marshalString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// KnownEntities returns the canonical entity names, for display.
func KnownEntities() []string {
	seen := map[string]bool{}
	var names []string
	for _, spec := range vocabulary {
		if !seen[spec.name] {
			seen[spec.name] = true
			names = append(names, spec.name)
		}
	}
	sort.Strings(names)
	return names
}

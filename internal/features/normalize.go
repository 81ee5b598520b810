package features

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/dropout-risk/internal/apperr"
)

var nonTokenRe = regexp.MustCompile(`[^a-z0-9]+`)

// boolTokens maps boolean-like tokens (already lower-cased and accent-folded).
var boolTokens = map[string]float64{
	"yes": 1, "no": 0,
	"true": 1, "false": 0,
	"sim": 1, "nao": 0,
	"s": 1, "n": 0,
	"1": 1, "0": 0,
}

// foldAccents strips combining marks, so "Não" becomes "Nao".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CanonicalKey lower-cases a raw header, folds accents, and collapses every
// run of whitespace or punctuation into a single underscore.
func CanonicalKey(raw string) string {
	k := strings.ToLower(foldAccents(strings.TrimSpace(raw)))
	k = nonTokenRe.ReplaceAllString(k, "_")
	return strings.Trim(k, "_")
}

// Normalizer cleans raw records into canonical Records.
type Normalizer struct {
	schema Schema
}

// NewNormalizer creates a Normalizer over the given schema.
func NewNormalizer(schema Schema) *Normalizer {
	if schema.Fields == nil {
		schema.Fields = map[string]FieldSpec{}
	}
	if schema.Aliases == nil {
		schema.Aliases = map[string]string{}
	}
	return &Normalizer{schema: schema}
}

// Schema returns the normalizer's schema.
func (n *Normalizer) Schema() Schema {
	return n.schema
}

// Normalize cleans a single raw record. Keys are visited in sorted order and
// the first non-missing value for a canonical name wins, so inputs that spell
// the same feature twice resolve deterministically.
func (n *Normalizer) Normalize(raw map[string]any) Record {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := make(Record, len(raw))
	missing := make(map[string]bool)
	for _, k := range keys {
		name := n.schema.Resolve(CanonicalKey(k))
		if name == "" {
			continue
		}
		v, ok := coerce(raw[k])
		if !ok {
			if _, seen := rec[name]; !seen {
				rec[name] = n.defaultFor(name)
				missing[name] = true
			}
			continue
		}
		if _, seen := rec[name]; seen && !missing[name] {
			continue
		}
		rec[name] = n.clamp(name, v)
		delete(missing, name)
	}
	return rec
}

// NormalizeInput accepts a single mapping or a sequence of mappings and
// returns the normalized records. batch reports whether the input was a
// sequence. Any other shape fails with InvalidInputKind.
func (n *Normalizer) NormalizeInput(input any) (recs []Record, batch bool, err error) {
	switch v := input.(type) {
	case map[string]any:
		return []Record{n.Normalize(v)}, false, nil
	case map[string]string:
		return []Record{n.Normalize(stringMap(v))}, false, nil
	case []map[string]any:
		if len(v) == 0 {
			return nil, true, apperr.New(apperr.InvalidInputKind, "batch is empty")
		}
		recs = make([]Record, len(v))
		for i, m := range v {
			if m == nil {
				return nil, true, apperr.New(apperr.InvalidInputKind, "batch item %d is not a mapping", i)
			}
			recs[i] = n.Normalize(m)
		}
		return recs, true, nil
	case []any:
		if len(v) == 0 {
			return nil, true, apperr.New(apperr.InvalidInputKind, "batch is empty")
		}
		recs = make([]Record, len(v))
		for i, item := range v {
			switch m := item.(type) {
			case map[string]any:
				recs[i] = n.Normalize(m)
			case map[string]string:
				recs[i] = n.Normalize(stringMap(m))
			default:
				return nil, true, apperr.New(apperr.InvalidInputKind, "batch item %d is %T, not a mapping", i, item)
			}
		}
		return recs, true, nil
	case nil:
		return nil, false, apperr.New(apperr.InvalidInputKind, "input is empty")
	default:
		return nil, false, apperr.New(apperr.InvalidInputKind, "input is %T, expected a mapping or a list of mappings", input)
	}
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (n *Normalizer) defaultFor(name string) Value {
	if n.schema.KindOf(name) == Categorical {
		return Str(UnknownCategory)
	}
	return Num(0)
}

func (n *Normalizer) clamp(name string, v Value) Value {
	if v.IsStr {
		return v
	}
	spec, ok := n.schema.Fields[name]
	if !ok {
		return v
	}
	if spec.Min != nil && v.Num < *spec.Min {
		v.Num = *spec.Min
	}
	if spec.Max != nil && v.Num > *spec.Max {
		v.Num = *spec.Max
	}
	return v
}

// coerce converts a raw scalar to a Value. ok is false for missing values
// (nil, blank strings, NaN) and for types that are not scalars.
func coerce(raw any) (Value, bool) {
	switch v := raw.(type) {
	case nil:
		return Value{}, false
	case string:
		return coerceString(v)
	case json.Number:
		return coerceString(v.String())
	case bool:
		if v {
			return Num(1), true
		}
		return Num(0), true
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return Num(float64(v)), true
	case int8:
		return Num(float64(v)), true
	case int16:
		return Num(float64(v)), true
	case int32:
		return Num(float64(v)), true
	case int64:
		return Num(float64(v)), true
	case uint:
		return Num(float64(v)), true
	case uint8:
		return Num(float64(v)), true
	case uint16:
		return Num(float64(v)), true
	case uint32:
		return Num(float64(v)), true
	case uint64:
		return Num(float64(v)), true
	default:
		return Value{}, false
	}
}

func finite(f float64) (Value, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, false
	}
	return Num(f), true
}

func coerceString(s string) (Value, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, false
	}
	token := strings.ToLower(foldAccents(s))
	if b, ok := boolTokens[token]; ok {
		return Num(b), true
	}
	switch token {
	case "nan", "null", "none", "n/a", "na":
		return Value{}, false
	}
	if f, err := parseNumber(s); err == nil {
		return Num(f), true
	}
	return Str(s), true
}

// parseNumber parses a finite decimal number. A lone decimal comma is
// accepted ("12,5").
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		f, err = strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrSyntax
	}
	return f, nil
}

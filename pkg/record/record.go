// Package record defines the records held in a SetDB set.
//
// A record is an opaque JSON object. The only field SetDB interprets is the
// key field (configured with 'index by', defaulting to '_id'), which
// uniquely identifies the record within the set.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultIndexBy is the default key field.
const DefaultIndexBy = "_id"

// Record is a single entry in the set.
//
// Records admitted to a store are normalised so values only contain
// map[string]any, []any, string, json.Number, bool and nil.
type Record map[string]any

// Validator reports whether the given record may enter the set.
//
// Validators must be side-effect free. They are passed a copy of the record
// so cannot modify stored state.
type Validator func(r Record) bool

// AcceptAll is a Validator that accepts every record.
func AcceptAll(_ Record) bool {
	return true
}

// RequireFields returns a Validator that only accepts records containing
// every one of the given fields with a non-null value.
func RequireFields(fields ...string) Validator {
	return func(r Record) bool {
		for _, f := range fields {
			v, ok := r[f]
			if !ok || v == nil {
				return false
			}
		}
		return true
	}
}

// Normalize converts v into a Record by round tripping it through JSON.
//
// This both deep copies v and converts it into the canonical value types.
// Returns an error if v can't be encoded as JSON or isn't a JSON object.
func Normalize(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("not an object")
	}
	return r, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	clone := make(Record, len(r))
	for k, v := range r {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case Record:
		return v.Clone()
	case map[string]any:
		clone := make(map[string]any, len(v))
		for k, e := range v {
			clone[k] = cloneValue(e)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for i, e := range v {
			clone[i] = cloneValue(e)
		}
		return clone
	default:
		return v
	}
}

// Key returns the key token for the record, which is the value of the
// indexBy field.
//
// Keys may be strings, numbers or booleans. Numbers use their JSON literal so
// peers agree on the token. Returns false if the field is missing, null,
// an empty string, or isn't a scalar.
func Key(r Record, indexBy string) (string, bool) {
	v, ok := r[indexBy]
	if !ok {
		return "", false
	}
	return keyToken(v)
}

func keyToken(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case map[string]any, Record, []any:
		return "", false
	}

	// Not yet normalised (such as an int or a named string type), so convert
	// to its JSON value first.
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var normalised any
	if err := dec.Decode(&normalised); err != nil {
		return "", false
	}
	switch normalised.(type) {
	case string, json.Number, bool:
		return keyToken(normalised)
	default:
		return "", false
	}
}

// Compare orders key tokens by byte-wise comparison.
//
// Every peer must use the same order when serialising a set, otherwise the
// same set would have different content addresses.
func Compare(a, b string) int {
	return strings.Compare(a, b)
}

// SortByKey sorts the records in ascending key order. Records without a key
// are ordered last.
func SortByKey(records []Record, indexBy string) {
	sort.SliceStable(records, func(i, j int) bool {
		ki, oki := Key(records[i], indexBy)
		kj, okj := Key(records[j], indexBy)
		if !oki || !okj {
			return oki && !okj
		}
		return Compare(ki, kj) < 0
	})
}
